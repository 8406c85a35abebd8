package workflowstore

const schema = `
CREATE TABLE IF NOT EXISTS workflows (
    name TEXT PRIMARY KEY,
    method TEXT,
    max_parallel INTEGER DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tasks (
    workflow TEXT NOT NULL REFERENCES workflows(name) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    id TEXT NOT NULL,
    name TEXT,
    duration REAL NOT NULL,
    resources REAL NOT NULL DEFAULT 1,
    PRIMARY KEY (workflow, id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_workflow ON tasks(workflow, position);

-- Edges may reference unknown tasks; they are kept as written and
-- reported as dangling at schedule time.
CREATE TABLE IF NOT EXISTS dependencies (
    workflow TEXT NOT NULL REFERENCES workflows(name) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    from_task TEXT NOT NULL,
    to_task TEXT NOT NULL,
    PRIMARY KEY (workflow, position)
);
`
