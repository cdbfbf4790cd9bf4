package database

var migrations = []string{
	// 001 initial schema
	`
CREATE TABLE migrations
(
    version INTEGER NOT NULL PRIMARY KEY,
    created TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE deployment
(
    task                VARCHAR(255) NOT NULL,
    round               INTEGER      NOT NULL,
    status              VARCHAR(31)  NOT NULL,
    email               VARCHAR(255) NOT NULL DEFAULT '',
    correlation_id      VARCHAR(63)  NOT NULL,
    repository_url      TEXT,
    pages_url           TEXT,
    commit_sha          VARCHAR(63),
    attempt_count       INTEGER      NOT NULL DEFAULT 0,
    failure_kind        VARCHAR(31)  NOT NULL DEFAULT '',
    last_error          TEXT,
    notification_failed BOOLEAN      NOT NULL DEFAULT FALSE,
    created             TIMESTAMP WITH TIME ZONE NOT NULL,
    updated             TIMESTAMP WITH TIME ZONE NOT NULL,
    completed           TIMESTAMP WITH TIME ZONE,
    PRIMARY KEY (task, round)
);

CREATE TABLE deployment_attempt
(
    task           VARCHAR(255) NOT NULL,
    round          INTEGER      NOT NULL,
    nonce          VARCHAR(255) NOT NULL,
    correlation_id VARCHAR(63)  NOT NULL,
    created        TIMESTAMP WITH TIME ZONE NOT NULL,
    PRIMARY KEY (task, round, nonce)
);

INSERT INTO migrations (version, created)
VALUES (1, NOW());
`,

	// 002 indices for baseline resolution and attempt pruning
	`
CREATE INDEX deployment_task_status_round ON deployment (task, status, round DESC);

CREATE INDEX deployment_attempt_created ON deployment_attempt (created);

INSERT INTO migrations (version, created)
VALUES (2, NOW());
`,
}
