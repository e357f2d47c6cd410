package storage

func (s *Store) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS videos (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL,
        author TEXT,
        source_url TEXT NOT NULL,
        platform TEXT NOT NULL,
        file_path TEXT,
        thumbnail_path TEXT,
        subtitle_path TEXT,
        description TEXT,
        duration INTEGER DEFAULT 0,
        upload_date DATETIME,
        series_title TEXT,
        part_number INTEGER DEFAULT 0,
        total_parts INTEGER DEFAULT 0,
        status TEXT NOT NULL DEFAULT 'available',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    -- multi-part flows insert several rows per source_url, so uniqueness is
    -- only enforced for standalone videos
    CREATE UNIQUE INDEX IF NOT EXISTS idx_videos_source_url
        ON videos(source_url) WHERE total_parts = 0;

    CREATE TABLE IF NOT EXISTS collections (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL UNIQUE,
        description TEXT,
        video_ids TEXT NOT NULL DEFAULT '[]',
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS subscriptions (
        id TEXT PRIMARY KEY,
        author TEXT NOT NULL,
        author_url TEXT NOT NULL UNIQUE,
        platform TEXT NOT NULL,
        interval INTEGER NOT NULL,
        last_video_link TEXT,
        last_check DATETIME,
        download_count INTEGER DEFAULT 0,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS continuous_tasks (
        id TEXT PRIMARY KEY,
        subscription_id TEXT,
        author_url TEXT NOT NULL,
        author TEXT,
        platform TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'active',
        total_videos INTEGER DEFAULT 0,
        downloaded_count INTEGER DEFAULT 0,
        skipped_count INTEGER DEFAULT 0,
        failed_count INTEGER DEFAULT 0,
        current_video_index INTEGER DEFAULT 0,
        error TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS download_queue (
        id TEXT PRIMARY KEY,
        title TEXT,
        source_url TEXT,
        type TEXT NOT NULL,
        position INTEGER NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS download_history (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        download_id TEXT,
        title TEXT,
        source_url TEXT,
        platform TEXT,
        status TEXT NOT NULL,
        error TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS settings (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );
    `
	_, err := s.db.Exec(query)
	return err
}
