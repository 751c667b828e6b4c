package sqlite

// schema mirrors the postgres driver's layout (internal/syncstore/postgres)
// with uint256 columns stored as pkg/u256-encoded TEXT instead of NUMERIC,
// since SQLite has no arbitrary-precision numeric type.
const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	chain_id     INTEGER NOT NULL,
	hash         TEXT NOT NULL,
	number       INTEGER NOT NULL,
	parent_hash  TEXT NOT NULL,
	timestamp    INTEGER NOT NULL,
	gas_used     INTEGER NOT NULL,
	gas_limit    INTEGER NOT NULL,
	base_fee     TEXT,
	PRIMARY KEY (chain_id, hash)
);
CREATE INDEX IF NOT EXISTS blocks_number_idx ON blocks (chain_id, number);

CREATE TABLE IF NOT EXISTS transactions (
	chain_id     INTEGER NOT NULL,
	hash         TEXT NOT NULL,
	block_hash   TEXT NOT NULL,
	block_number INTEGER NOT NULL,
	from_address TEXT NOT NULL,
	to_address   TEXT NOT NULL,
	tx_index     INTEGER NOT NULL,
	value        TEXT NOT NULL,
	input        BLOB,
	PRIMARY KEY (chain_id, hash)
);
CREATE INDEX IF NOT EXISTS transactions_block_number_idx ON transactions (chain_id, block_number);

CREATE TABLE IF NOT EXISTS logs (
	id                TEXT PRIMARY KEY,
	chain_id          INTEGER NOT NULL,
	block_hash        TEXT NOT NULL,
	block_number      INTEGER NOT NULL,
	log_index         INTEGER NOT NULL,
	address           TEXT NOT NULL,
	topic0            TEXT,
	topic1            TEXT,
	topic2            TEXT,
	topic3            TEXT,
	data              BLOB,
	transaction_hash  TEXT NOT NULL,
	transaction_index INTEGER NOT NULL,
	removed           INTEGER NOT NULL DEFAULT 0,
	UNIQUE (chain_id, block_hash, log_index)
);
CREATE INDEX IF NOT EXISTS logs_block_number_idx ON logs (chain_id, block_number);
CREATE INDEX IF NOT EXISTS logs_address_idx ON logs (chain_id, address);
CREATE INDEX IF NOT EXISTS logs_topic0_idx ON logs (chain_id, topic0);

CREATE TABLE IF NOT EXISTS log_filters (
	id       TEXT PRIMARY KEY,
	chain_id INTEGER NOT NULL,
	address  TEXT NOT NULL DEFAULT '',
	topic0   TEXT NOT NULL DEFAULT '',
	topic1   TEXT NOT NULL DEFAULT '',
	topic2   TEXT NOT NULL DEFAULT '',
	topic3   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS log_filter_intervals (
	log_filter_id TEXT NOT NULL REFERENCES log_filters(id),
	start_block   INTEGER NOT NULL,
	end_block     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS log_filter_intervals_filter_idx ON log_filter_intervals (log_filter_id);

CREATE TABLE IF NOT EXISTS factories (
	id                     TEXT PRIMARY KEY,
	chain_id               INTEGER NOT NULL,
	address                TEXT NOT NULL,
	event_selector         TEXT NOT NULL,
	child_address_location TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS factory_log_filter_intervals (
	factory_id  TEXT NOT NULL REFERENCES factories(id),
	start_block INTEGER NOT NULL,
	end_block   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS factory_log_filter_intervals_factory_idx ON factory_log_filter_intervals (factory_id);

CREATE TABLE IF NOT EXISTS rpc_request_results (
	chain_id     INTEGER NOT NULL,
	block_number INTEGER NOT NULL,
	request      TEXT NOT NULL,
	result       TEXT NOT NULL,
	PRIMARY KEY (chain_id, block_number, request)
);

CREATE TABLE IF NOT EXISTS function_metadata (
	function_id   TEXT PRIMARY KEY,
	function_name TEXT NOT NULL,
	from_ts        INTEGER NOT NULL,
	from_chain     INTEGER NOT NULL,
	from_block     INTEGER NOT NULL,
	from_log_index INTEGER,
	to_ts          INTEGER NOT NULL,
	to_chain       INTEGER NOT NULL,
	to_block       INTEGER NOT NULL,
	to_log_index   INTEGER,
	event_count    INTEGER NOT NULL DEFAULT 0
);
`
