package sqlstore

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS products (
    id              INTEGER PRIMARY KEY,
    name            TEXT    NOT NULL,
    price           TEXT    NOT NULL,
    discount_price  TEXT,
    status          TEXT    NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS orders (
    id               TEXT    PRIMARY KEY,
    customer_id      TEXT,
    name             TEXT    NOT NULL,
    email            TEXT    NOT NULL,
    phone            TEXT    NOT NULL,
    address          TEXT    NOT NULL,
    city             TEXT    NOT NULL DEFAULT '',
    zipcode          TEXT    NOT NULL DEFAULT '',
    total            TEXT    NOT NULL,
    status           TEXT    NOT NULL,
    is_paid          INTEGER NOT NULL DEFAULT 0,
    is_customized    INTEGER NOT NULL DEFAULT 0,
    customized_file  TEXT,
    -- One order per processor checkout session.
    session_token    TEXT    UNIQUE,
    reservation_id   TEXT    UNIQUE,
    created_at       TEXT    NOT NULL,
    updated_at       TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);

CREATE TABLE IF NOT EXISTS order_items (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id      TEXT    NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id    INTEGER NOT NULL,
    name          TEXT    NOT NULL,
    quantity      INTEGER NOT NULL CHECK (quantity >= 1),
    unit_price    TEXT    NOT NULL,
    artifact_ref  TEXT
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);

CREATE TABLE IF NOT EXISTS order_payments (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id        TEXT    NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    amount          TEXT    NOT NULL,
    method          TEXT    NOT NULL,
    status          TEXT    NOT NULL,
    transaction_id  TEXT,
    notes           TEXT    NOT NULL DEFAULT '',
    retryable       INTEGER NOT NULL DEFAULT 0,
    created_at      TEXT    NOT NULL,
    updated_at      TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_payments_order ON order_payments(order_id, status, method);

CREATE TABLE IF NOT EXISTS processed_events (
    event_id      TEXT PRIMARY KEY,
    event_type    TEXT NOT NULL,
    processed_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS saga_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    saga_id         TEXT NOT NULL,
    status          TEXT NOT NULL,
    current_step    TEXT NOT NULL DEFAULT '',
    payload         TEXT,
    error_messages  TEXT NOT NULL DEFAULT '[]',
    trace_id        TEXT NOT NULL DEFAULT '',
    span_id         TEXT NOT NULL DEFAULT '',
    updated_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_logs_saga_id ON saga_logs(saga_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_saga_logs_trace_id ON saga_logs(trace_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS products (
    id              BIGINT PRIMARY KEY,
    name            TEXT          NOT NULL,
    price           NUMERIC(12,2) NOT NULL,
    discount_price  NUMERIC(12,2),
    status          TEXT          NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS orders (
    id               TEXT          PRIMARY KEY,
    customer_id      TEXT,
    name             TEXT          NOT NULL,
    email            TEXT          NOT NULL,
    phone            TEXT          NOT NULL,
    address          TEXT          NOT NULL,
    city             TEXT          NOT NULL DEFAULT '',
    zipcode          TEXT          NOT NULL DEFAULT '',
    total            NUMERIC(12,2) NOT NULL,
    status           TEXT          NOT NULL,
    is_paid          BOOLEAN       NOT NULL DEFAULT FALSE,
    is_customized    BOOLEAN       NOT NULL DEFAULT FALSE,
    customized_file  TEXT,
    session_token    TEXT          UNIQUE,
    reservation_id   TEXT          UNIQUE,
    created_at       TIMESTAMPTZ   NOT NULL,
    updated_at       TIMESTAMPTZ   NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at);

CREATE TABLE IF NOT EXISTS order_items (
    id            BIGSERIAL     PRIMARY KEY,
    order_id      TEXT          NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    product_id    BIGINT        NOT NULL,
    name          TEXT          NOT NULL,
    quantity      INTEGER       NOT NULL CHECK (quantity >= 1),
    unit_price    NUMERIC(12,2) NOT NULL,
    artifact_ref  TEXT
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);

CREATE TABLE IF NOT EXISTS order_payments (
    id              BIGSERIAL     PRIMARY KEY,
    order_id        TEXT          NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    amount          NUMERIC(12,2) NOT NULL,
    method          TEXT          NOT NULL,
    status          TEXT          NOT NULL,
    transaction_id  TEXT,
    notes           TEXT          NOT NULL DEFAULT '',
    retryable       BOOLEAN       NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ   NOT NULL,
    updated_at      TIMESTAMPTZ   NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_payments_order ON order_payments(order_id, status, method);

CREATE TABLE IF NOT EXISTS processed_events (
    event_id      TEXT        PRIMARY KEY,
    event_type    TEXT        NOT NULL,
    processed_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS saga_logs (
    id              BIGSERIAL   PRIMARY KEY,
    saga_id         TEXT        NOT NULL,
    status          TEXT        NOT NULL,
    current_step    TEXT        NOT NULL DEFAULT '',
    payload         TEXT,
    error_messages  TEXT        NOT NULL DEFAULT '[]',
    trace_id        TEXT        NOT NULL DEFAULT '',
    span_id         TEXT        NOT NULL DEFAULT '',
    updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_saga_logs_saga_id ON saga_logs(saga_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_saga_logs_trace_id ON saga_logs(trace_id);
`
