package postgres

// schema holds every version ever written for every entity, keyed by
// (entityType, entityId, checkpoint); isLatest flags the one row FindUnique
// should serve, maintained by the store rather than a live view so Revert
// can flip it cheaply on the handful of rows a reorg actually touches.
const schema = `
CREATE TABLE IF NOT EXISTS entity_versions (
	entity_type  TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	data         JSONB,
	operation    TEXT NOT NULL,
	cp_timestamp BIGINT NOT NULL,
	cp_chain_id  BIGINT NOT NULL,
	cp_block     BIGINT NOT NULL,
	cp_log_index BIGINT NOT NULL,
	is_latest    BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (entity_type, entity_id, cp_timestamp, cp_chain_id, cp_block, cp_log_index)
);
CREATE INDEX IF NOT EXISTS entity_versions_latest_idx
	ON entity_versions (entity_type, entity_id) WHERE is_latest;
`
