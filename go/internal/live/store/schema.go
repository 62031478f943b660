package store

// StageChannel is the NOTIFY channel a session stage change is announced on.
// The payload is "<session id>:<stage>".
const StageChannel = "live_session_stage"

// Schema creates the live tables and the stage notification trigger.
const Schema = `
CREATE TABLE IF NOT EXISTS live_sessions (
    id             UUID PRIMARY KEY,
    name           TEXT NOT NULL DEFAULT '',
    stage          SMALLINT NOT NULL DEFAULT 0,
    text_overrides JSONB
);

CREATE TABLE IF NOT EXISTS live_teams (
    id         UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES live_sessions(id) ON DELETE CASCADE,
    name       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS live_members (
    session_id     UUID NOT NULL REFERENCES live_sessions(id) ON DELETE CASCADE,
    participant_id UUID NOT NULL,
    team_id        UUID REFERENCES live_teams(id) ON DELETE SET NULL,
    is_player      BOOLEAN NOT NULL DEFAULT FALSE,
    is_spectator   BOOLEAN NOT NULL DEFAULT FALSE,
    is_special     BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (session_id, participant_id)
);

CREATE TABLE IF NOT EXISTS live_producers (
    id         UUID PRIMARY KEY,
    session_id UUID NOT NULL REFERENCES live_sessions(id) ON DELETE CASCADE,
    team_id    UUID REFERENCES live_teams(id) ON DELETE SET NULL,
    name       TEXT NOT NULL DEFAULT '',
    lat        DOUBLE PRECISION NOT NULL,
    lng        DOUBLE PRECISION NOT NULL,
    range_m    DOUBLE PRECISION NOT NULL DEFAULT 0,
    rate       BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS live_exchange_points (
    id          UUID PRIMARY KEY,
    session_id  UUID NOT NULL REFERENCES live_sessions(id) ON DELETE CASCADE,
    operator_id UUID NOT NULL,
    token       TEXT NOT NULL,
    lat         DOUBLE PRECISION NOT NULL,
    lng         DOUBLE PRECISION NOT NULL,
    range_m     DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS live_fields (
    kind  TEXT NOT NULL,
    id    UUID NOT NULL,
    field TEXT NOT NULL,
    value JSONB NOT NULL,
    PRIMARY KEY (kind, id, field)
);

CREATE OR REPLACE FUNCTION live_notify_stage() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('live_session_stage', NEW.id::text || ':' || NEW.stage::text);
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS live_sessions_stage ON live_sessions;
CREATE TRIGGER live_sessions_stage
    AFTER UPDATE OF stage ON live_sessions
    FOR EACH ROW
    WHEN (OLD.stage IS DISTINCT FROM NEW.stage)
    EXECUTE FUNCTION live_notify_stage();
`
