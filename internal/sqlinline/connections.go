package sqlinline

const QUpsertConnection = `--sql 3c1f9a7e-2b4d-4e8a-9f16-7d5c2a8b0e41
insert into ws_connections (connection_id, gateway_id, remote_addr, country, locale, connected_at, updated_at)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::timestamptz, now())
on conflict (connection_id) do update set
    gateway_id = excluded.gateway_id,
    remote_addr = excluded.remote_addr,
    country = excluded.country,
    locale = excluded.locale,
    connected_at = excluded.connected_at,
    updated_at = now();
`

const QDeleteConnection = `--sql 9e2b7c41-6a3f-4d05-8b2e-1f4a6c8d9e03
delete from ws_connections
where connection_id = $1::text;
`

const QSelectConnection = `--sql 5a8d2f61-0c7e-4b39-a4d2-6e9f1b3c5a77
select gateway_id, remote_addr, country, locale, connected_at
from ws_connections
where connection_id = $1::text
limit 1;
`

const QDeleteGatewayConnections = `--sql b4e6a9c2-8d1f-4a7b-9c3e-0d2f5a7b9c18
delete from ws_connections
where gateway_id = $1::text;
`
