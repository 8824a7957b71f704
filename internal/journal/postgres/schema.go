package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS origins_journal (
	seq BIGSERIAL PRIMARY KEY,
	command_id BYTEA NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	caller BYTEA NOT NULL,
	at BIGINT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	envelope BYTEA NOT NULL,
	events JSONB,
	output JSONB,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CONSTRAINT origins_journal_command_id_len CHECK (octet_length(command_id) = 32),
	CONSTRAINT origins_journal_caller_len CHECK (octet_length(caller) = 20),
	CONSTRAINT origins_journal_status_check CHECK (status IN ('applied', 'reverted'))
);

CREATE INDEX IF NOT EXISTS origins_journal_caller_idx ON origins_journal (caller, seq);
`
