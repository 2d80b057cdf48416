package sqlinline

// ConstraintLedgerTaskKind guards at most one CHARGE and one REFUND per task.
const ConstraintLedgerTaskKind = "credit_ledger_task_kind_key"

// ConstraintTaskExternalID guards uniqueness of vendor ids per provider.
const ConstraintTaskExternalID = "generation_tasks_provider_external_key"

const QInsertCharge = `--sql 4556a97e-17d3-4fa3-bde8-046fd97554ca
insert into credit_ledger (id, user_id, amount, related_task_id, kind, created_at)
values ($1::uuid, $2::text, $3::bigint, $4::uuid, 'CHARGE', $5::timestamptz);
`

// QInsertRefund mirrors the task's CHARGE. It inserts nothing when no charge
// exists or a refund was already recorded.
const QInsertRefund = `--sql 359119f2-8998-4019-b45b-a83fe4819939
insert into credit_ledger (id, user_id, amount, related_task_id, kind, created_at)
select $1::uuid, c.user_id, -c.amount, c.related_task_id, 'REFUND', $3::timestamptz
from credit_ledger c
where c.related_task_id = $2::uuid
  and c.kind = 'CHARGE'
on conflict on constraint credit_ledger_task_kind_key do nothing
returning user_id, amount;
`

const QSelectLedgerByTask = `--sql 37d18f74-4a3d-45de-9e28-c8b3d65758b9
select id::text, user_id, amount, related_task_id::text, kind, created_at
from credit_ledger
where related_task_id = $1::uuid
order by created_at asc, kind asc;
`

const QSelectCreditBalance = `--sql 22efd62a-12f6-4e53-9bb9-25ba127e2382
select
    coalesce((
        select sum(g.amount)
        from credit_grants g
        where g.user_id = $1::text
          and (g.expires_at is null or g.expires_at > $2::timestamptz)
    ), 0)::bigint
    +
    coalesce((
        select sum(l.amount)
        from credit_ledger l
        where l.user_id = $1::text
    ), 0)::bigint;
`
