package sqlinline

const QInsertTask = `--sql afe38c2c-b0d0-4980-aeef-3408909fbc06
insert into generation_tasks (
    id, user_id, provider, external_task_id, media_type, model, status,
    params, task_info, task_result, credit_id, credit_amount, created_at, updated_at
)
values (
    $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text,
    coalesce($8::jsonb, '{}'::jsonb), $9::json, $10::json, $11::uuid, $12::bigint, $13::timestamptz, $13::timestamptz
);
`

const QSelectTaskByID = `--sql e7252f57-8da4-4086-8ed2-ba5bbc4ae00a
select id::text, user_id, provider, external_task_id, media_type, model, status,
       params, task_info, task_result, credit_id::text, credit_amount, created_at, updated_at
from generation_tasks
where id = $1::uuid;
`

const QSelectTaskByExternalID = `--sql ab852a62-810e-424a-ae48-096de94a79d5
select id::text, user_id, provider, external_task_id, media_type, model, status,
       params, task_info, task_result, credit_id::text, credit_amount, created_at, updated_at
from generation_tasks
where provider = $1::text and external_task_id = $2::text;
`

// QUpdateTaskIfActive is the optimistic write: it only matches rows whose
// stored status is still non-terminal.
const QUpdateTaskIfActive = `--sql 715d2257-1a3a-4241-8cc0-3f2267054b2c
update generation_tasks
set status = $2::text,
    task_info = $3::json,
    task_result = coalesce($4::json, task_result),
    updated_at = $5::timestamptz
where id = $1::uuid
  and status in ('PENDING', 'PROCESSING');
`

const QSelectActiveTasks = `--sql 9cf10201-1fa4-4da5-ad14-0774bd126cb5
select id::text, user_id, provider, external_task_id, media_type, model, status,
       params, task_info, task_result, credit_id::text, credit_amount, created_at, updated_at
from generation_tasks
where status in ('PENDING', 'PROCESSING')
order by created_at asc
limit $1::int;
`
