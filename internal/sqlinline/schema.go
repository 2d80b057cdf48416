package sqlinline

// QSchema creates the orchestration tables. task_info and task_result use
// json rather than jsonb so the stored bytes are returned unchanged.
const QSchema = `--sql 9ab029dc-7f6f-4f7b-adc2-17dcd87c3903
create table if not exists generation_tasks (
    id               uuid primary key,
    user_id          text not null,
    provider         text not null,
    external_task_id text not null,
    media_type       text not null check (media_type in ('image', 'video', 'music')),
    model            text not null,
    status           text not null check (status in ('PENDING', 'PROCESSING', 'SUCCEEDED', 'FAILED', 'CANCELLED')),
    params           jsonb not null default '{}'::jsonb,
    task_info        json,
    task_result      json,
    credit_id        uuid not null,
    credit_amount    bigint not null,
    created_at       timestamptz not null default now(),
    updated_at       timestamptz not null default now(),
    constraint generation_tasks_provider_external_key unique (provider, external_task_id)
);

create index if not exists generation_tasks_active_idx
    on generation_tasks (created_at)
    where status in ('PENDING', 'PROCESSING');

create index if not exists generation_tasks_user_idx
    on generation_tasks (user_id, created_at desc);

create table if not exists credit_ledger (
    id              uuid primary key,
    user_id         text not null,
    amount          bigint not null,
    related_task_id uuid not null references generation_tasks (id),
    kind            text not null check (kind in ('CHARGE', 'REFUND')),
    created_at      timestamptz not null default now(),
    constraint credit_ledger_task_kind_key unique (related_task_id, kind)
);

create index if not exists credit_ledger_user_idx on credit_ledger (user_id);

create table if not exists credit_grants (
    id         uuid primary key default gen_random_uuid(),
    user_id    text not null,
    amount     bigint not null check (amount >= 0),
    expires_at timestamptz,
    created_at timestamptz not null default now()
);

create index if not exists credit_grants_user_idx on credit_grants (user_id);

create table if not exists integration_tokens (
    id         uuid primary key default gen_random_uuid(),
    provider   text not null unique,
    token      text not null,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
