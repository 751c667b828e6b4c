package postgres

// schema mirrors spec §3 / §6's persisted layout: blocks/transactions/logs,
// log-filter and factory fragment tables with their interval tables, the
// RPC cache, and function progress. NUMERIC(78,0) holds uint256 values
// directly — no sign-padding codec is needed on this driver (pkg/u256 is
// only used by the SQLite driver).
const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	chain_id     BIGINT NOT NULL,
	hash         TEXT NOT NULL,
	number       BIGINT NOT NULL,
	parent_hash  TEXT NOT NULL,
	timestamp    BIGINT NOT NULL,
	gas_used     BIGINT NOT NULL,
	gas_limit    BIGINT NOT NULL,
	base_fee     NUMERIC(78,0),
	PRIMARY KEY (chain_id, hash)
);
CREATE INDEX IF NOT EXISTS blocks_number_idx ON blocks (chain_id, number);

CREATE TABLE IF NOT EXISTS transactions (
	chain_id     BIGINT NOT NULL,
	hash         TEXT NOT NULL,
	block_hash   TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	from_address TEXT NOT NULL,
	to_address   TEXT NOT NULL,
	tx_index     INT NOT NULL,
	value        NUMERIC(78,0) NOT NULL,
	input        BYTEA,
	PRIMARY KEY (chain_id, hash)
);
CREATE INDEX IF NOT EXISTS transactions_block_number_idx ON transactions (chain_id, block_number);

CREATE TABLE IF NOT EXISTS logs (
	id                TEXT PRIMARY KEY,
	chain_id          BIGINT NOT NULL,
	block_hash        TEXT NOT NULL,
	block_number      BIGINT NOT NULL,
	log_index         INT NOT NULL,
	address           TEXT NOT NULL,
	topic0            TEXT,
	topic1            TEXT,
	topic2            TEXT,
	topic3            TEXT,
	data              BYTEA,
	transaction_hash  TEXT NOT NULL,
	transaction_index INT NOT NULL,
	removed           BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (chain_id, block_hash, log_index)
);
CREATE INDEX IF NOT EXISTS logs_block_number_idx ON logs (chain_id, block_number);
CREATE INDEX IF NOT EXISTS logs_address_idx ON logs (chain_id, address);
CREATE INDEX IF NOT EXISTS logs_topic0_idx ON logs (chain_id, topic0);

CREATE TABLE IF NOT EXISTS log_filters (
	id       TEXT PRIMARY KEY,
	chain_id BIGINT NOT NULL,
	address  TEXT NOT NULL DEFAULT '',
	topic0   TEXT NOT NULL DEFAULT '',
	topic1   TEXT NOT NULL DEFAULT '',
	topic2   TEXT NOT NULL DEFAULT '',
	topic3   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS log_filter_intervals (
	log_filter_id TEXT NOT NULL REFERENCES log_filters(id),
	start_block   BIGINT NOT NULL,
	end_block     BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS log_filter_intervals_filter_idx ON log_filter_intervals (log_filter_id);

CREATE TABLE IF NOT EXISTS factories (
	id                      TEXT PRIMARY KEY,
	chain_id                BIGINT NOT NULL,
	address                 TEXT NOT NULL,
	event_selector          TEXT NOT NULL,
	child_address_location  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS factory_log_filter_intervals (
	factory_id  TEXT NOT NULL REFERENCES factories(id),
	start_block BIGINT NOT NULL,
	end_block   BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS factory_log_filter_intervals_factory_idx ON factory_log_filter_intervals (factory_id);

CREATE TABLE IF NOT EXISTS rpc_request_results (
	chain_id     BIGINT NOT NULL,
	block_number BIGINT NOT NULL,
	request      TEXT NOT NULL,
	result       TEXT NOT NULL,
	PRIMARY KEY (chain_id, block_number, request)
);

CREATE TABLE IF NOT EXISTS function_metadata (
	function_id            TEXT PRIMARY KEY,
	function_name          TEXT NOT NULL,
	from_ts                BIGINT NOT NULL,
	from_chain             BIGINT NOT NULL,
	from_block             BIGINT NOT NULL,
	from_log_index         INT,
	to_ts                  BIGINT NOT NULL,
	to_chain               BIGINT NOT NULL,
	to_block               BIGINT NOT NULL,
	to_log_index           INT,
	event_count            BIGINT NOT NULL DEFAULT 0
);
`
