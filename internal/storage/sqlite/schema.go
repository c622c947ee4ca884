package sqlite

const schema = `
-- Raw activities: one row per observed calendar event or note edit.
-- time is '' (not NULL) for date-only events so the upsert key index
-- can treat "no time" as a comparable value.
CREATE TABLE IF NOT EXISTS raw_activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL CHECK(date LIKE '____-__-__'),
    time TEXT NOT NULL DEFAULT '',
    duration_minutes INTEGER NOT NULL DEFAULT 0 CHECK(duration_minutes >= 0),
    details TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL CHECK(source IN ('calendar', 'notes')),
    source_event_id TEXT NOT NULL DEFAULT '',
    source_link TEXT NOT NULL DEFAULT '',
    source_payload TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_raw_activities_date ON raw_activities(date);
CREATE INDEX IF NOT EXISTS idx_raw_activities_source ON raw_activities(source);
CREATE INDEX IF NOT EXISTS idx_raw_activities_source_date ON raw_activities(source, date);

-- Upsert key 1: provider event identity.
CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_activities_event_key
    ON raw_activities(source, source_event_id, date, time)
    WHERE source_event_id != '';

-- Upsert key 2: source link, for rows without a provider event id.
CREATE UNIQUE INDEX IF NOT EXISTS idx_raw_activities_link_key
    ON raw_activities(source, source_link)
    WHERE source_link != '' AND source_event_id = '';

-- Note pages from the external workspace.
CREATE TABLE IF NOT EXISTS note_pages (
    page_id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    last_edited_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Note blocks form a tree per page. parent_block_id is '' for top-level
-- blocks; ingestion traverses parents before children so every non-empty
-- parent resolves to a block on the same page.
CREATE TABLE IF NOT EXISTS note_blocks (
    block_id TEXT PRIMARY KEY,
    page_id TEXT NOT NULL REFERENCES note_pages(page_id) ON DELETE CASCADE,
    parent_block_id TEXT NOT NULL DEFAULT '',
    block_type TEXT NOT NULL DEFAULT '',
    is_leaf INTEGER NOT NULL DEFAULT 0,
    text TEXT NOT NULL DEFAULT '',
    abstract TEXT NOT NULL DEFAULT '',
    last_edited_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_note_blocks_page ON note_blocks(page_id);
CREATE INDEX IF NOT EXISTS idx_note_blocks_parent ON note_blocks(parent_block_id);
CREATE INDEX IF NOT EXISTS idx_note_blocks_last_edited ON note_blocks(last_edited_at);
CREATE INDEX IF NOT EXISTS idx_note_blocks_is_leaf ON note_blocks(is_leaf);

-- Append-only audit of block edits.
CREATE TABLE IF NOT EXISTS note_block_edits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    block_id TEXT NOT NULL REFERENCES note_blocks(block_id) ON DELETE CASCADE,
    edited_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_note_block_edits_block ON note_block_edits(block_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_note_block_edits_key ON note_block_edits(block_id, edited_at);

-- One live embedding per (block, model). Vectors are little-endian
-- float32 blobs; dim records the vector length.
CREATE TABLE IF NOT EXISTS embeddings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    block_id TEXT NOT NULL REFERENCES note_blocks(block_id) ON DELETE CASCADE,
    model TEXT NOT NULL,
    vector BLOB NOT NULL,
    dim INTEGER NOT NULL CHECK(dim > 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_embeddings_block_model ON embeddings(block_id, model);

-- Tags. usage_count is derived and maintained by triggers on activity_tags.
CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE COLLATE NOCASE CHECK(length(name) <= 100),
    description TEXT NOT NULL DEFAULT '',
    color TEXT NOT NULL DEFAULT '',
    usage_count INTEGER NOT NULL DEFAULT 0 CHECK(usage_count >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Processed activities carry tags; raw_activity_ids and sources are JSON
-- arrays.
CREATE TABLE IF NOT EXISTS processed_activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL CHECK(date LIKE '____-__-__'),
    time TEXT NOT NULL DEFAULT '',
    total_duration_minutes INTEGER NOT NULL DEFAULT 0,
    combined_details TEXT NOT NULL DEFAULT '',
    raw_activity_ids TEXT NOT NULL DEFAULT '[]',
    sources TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_processed_activities_date ON processed_activities(date);

-- Activity<->tag links with per-link confidence.
CREATE TABLE IF NOT EXISTS activity_tags (
    processed_activity_id INTEGER NOT NULL REFERENCES processed_activities(id) ON DELETE CASCADE,
    tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    confidence REAL NOT NULL DEFAULT 0 CHECK(confidence >= 0 AND confidence <= 1),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (processed_activity_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_activity_tags_activity ON activity_tags(processed_activity_id);
CREATE INDEX IF NOT EXISTS idx_activity_tags_tag ON activity_tags(tag_id);

-- Asynchronous job records. Progress snapshots live in process memory;
-- this table holds lifecycle state and final counters.
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL CHECK(status IN ('running', 'completed', 'failed')),
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    error TEXT NOT NULL DEFAULT '',
    progress REAL NOT NULL DEFAULT 0 CHECK(progress >= 0 AND progress <= 1),
    counters TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_jobs_started ON jobs(started_at);

-- Small versioned resource namespace (taxonomy artifacts). Latest version
-- wins; history is retained.
CREATE TABLE IF NOT EXISTS resources (
    namespace TEXT NOT NULL,
    name TEXT NOT NULL,
    version INTEGER NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (namespace, name, version)
);

-- Migration bookkeeping.
CREATE TABLE IF NOT EXISTS schema_versions (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- usage_count maintenance on every link mutation, including tag_id
-- rewrites during merges.
CREATE TRIGGER IF NOT EXISTS trg_activity_tags_insert
AFTER INSERT ON activity_tags
FOR EACH ROW
BEGIN
    UPDATE tags SET usage_count = usage_count + 1 WHERE id = NEW.tag_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_activity_tags_delete
AFTER DELETE ON activity_tags
FOR EACH ROW
BEGIN
    UPDATE tags SET usage_count = max(usage_count - 1, 0) WHERE id = OLD.tag_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_activity_tags_retag
AFTER UPDATE OF tag_id ON activity_tags
FOR EACH ROW WHEN OLD.tag_id != NEW.tag_id
BEGIN
    UPDATE tags SET usage_count = max(usage_count - 1, 0) WHERE id = OLD.tag_id;
    UPDATE tags SET usage_count = usage_count + 1 WHERE id = NEW.tag_id;
END;

-- updated_at maintenance.
CREATE TRIGGER IF NOT EXISTS trg_raw_activities_touch
AFTER UPDATE ON raw_activities
FOR EACH ROW
BEGIN
    UPDATE raw_activities SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_note_pages_touch
AFTER UPDATE ON note_pages
FOR EACH ROW
BEGIN
    UPDATE note_pages SET updated_at = CURRENT_TIMESTAMP WHERE page_id = NEW.page_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_note_blocks_touch
AFTER UPDATE ON note_blocks
FOR EACH ROW
BEGIN
    UPDATE note_blocks SET updated_at = CURRENT_TIMESTAMP WHERE block_id = NEW.block_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_tags_touch
AFTER UPDATE OF name, description, color ON tags
FOR EACH ROW
BEGIN
    UPDATE tags SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TRIGGER IF NOT EXISTS trg_processed_activities_touch
AFTER UPDATE ON processed_activities
FOR EACH ROW
BEGIN
    UPDATE processed_activities SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;
`
