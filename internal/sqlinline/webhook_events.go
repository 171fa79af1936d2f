package sqlinline

const QEnqueueWebhookEvent = `--sql 148f3c0f-40fb-4091-8b2a-dd936699162d
insert into webhook_events (event, payload, process_after)
values ($1::text, $2::jsonb, now() + ($3::bigint * interval '1 millisecond'))
returning id;
`

const QRecordWebhookDelivery = `--sql 7b20c1de-31a8-4f92-bf5c-4e8adbde9f34
insert into webhook_events (event, payload, status, process_after)
values ($1::text, $2::jsonb, 'RECEIVED', now())
returning id;
`

const QClaimDueWebhookEvent = `--sql dfae144f-9b82-42eb-8b82-bea15f6d1c80
with next_event as (
    select id
    from webhook_events
    where status = 'QUEUED' and process_after <= now()
    order by process_after asc
    for update skip locked
    limit 1
),
claimed as (
    update webhook_events
    set status = 'RUNNING', attempts = attempts + 1, updated_at = now()
    where id in (select id from next_event)
    returning id, event, payload, attempts
)
select * from claimed;
`

const QSucceedWebhookEvent = `--sql dea150dc-3862-488b-9119-9029951de6bf
update webhook_events
set status = 'SUCCEEDED', updated_at = now()
where id = $1;
`

const QFailWebhookEvent = `--sql a52fe8f1-65d4-47e8-a50e-c9b4db64608e
update webhook_events
set status = 'FAILED', last_error = $2::text, updated_at = now()
where id = $1;
`

const QRequeueWebhookEvent = `--sql 5c13eca2-9598-4196-8d41-b3a3827e0f8b
update webhook_events
set status = 'QUEUED', last_error = $2::text,
    process_after = now() + ($3::bigint * interval '1 millisecond'),
    updated_at = now()
where id = $1;
`
