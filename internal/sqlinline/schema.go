package sqlinline

const QEnsureWebhookEvents = `--sql b8a6a68d-3720-4d27-850c-f202ca31db3d
create table if not exists webhook_events (
    id uuid primary key default gen_random_uuid(),
    event text not null,
    payload jsonb not null,
    status text not null default 'QUEUED',
    attempts int not null default 0,
    last_error text,
    process_after timestamptz not null default now(),
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`

const QEnsureWebhookEventsIndex = `--sql 3bdb35c7-29d0-4393-9d6b-b4b5cbb5dbc5
create index if not exists webhook_events_due_idx
    on webhook_events (process_after)
    where status = 'QUEUED';
`

const QEnsureIntegrationTokens = `--sql 77469702-f9db-4118-94f0-0a0f591f00dd
create table if not exists integration_tokens (
    id uuid primary key default gen_random_uuid(),
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
