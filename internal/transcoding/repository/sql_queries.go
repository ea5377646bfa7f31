package repository

var schemaQueries = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id UUID PRIMARY KEY,
		original_filename VARCHAR(255) NOT NULL,
		original_size BIGINT NOT NULL,
		upload_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		status VARCHAR(50) NOT NULL DEFAULT 'uploading',
		storage_path VARCHAR(1024),
		duration FLOAT,
		metadata JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS transcoding_jobs (
		id UUID PRIMARY KEY,
		video_id UUID NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		resolution VARCHAR(20) NOT NULL,
		status VARCHAR(50) NOT NULL DEFAULT 'pending',
		output_path VARCHAR(1024),
		output_size BIGINT,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		error_message TEXT,
		worker_id VARCHAR(255),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (video_id, resolution)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_videos_status ON videos(status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_video_id ON transcoding_jobs(video_id)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON transcoding_jobs(status)`,
}

const (
	videoColumns = `id, original_filename, original_size, upload_date, status,
		COALESCE(storage_path, '') AS storage_path, COALESCE(metadata, '{}'::jsonb) AS metadata`

	jobColumns = `id, video_id, resolution, status, output_path, output_size, started_at,
		completed_at, error_message, worker_id, created_at`

	createVideoQuery = `INSERT INTO videos (id, original_filename, original_size, upload_date, status, storage_path, metadata)
					VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING ` + videoColumns
	getVideoByIDQuery        = `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`
	getTotalVideosCountQuery = `SELECT COUNT(id) FROM videos`
	listVideosQuery          = `SELECT v.id, v.original_filename, v.original_size, v.upload_date, v.status,
					COALESCE(v.storage_path, '') AS storage_path, COALESCE(v.metadata, '{}'::jsonb) AS metadata,
					COUNT(j.id) AS total_jobs,
					COUNT(j.id) FILTER (WHERE j.status = 'completed') AS completed_jobs
					FROM videos v LEFT JOIN transcoding_jobs j ON j.video_id = v.id
					GROUP BY v.id ORDER BY v.upload_date DESC OFFSET $1 LIMIT $2`
	updateVideoStatusQuery = `UPDATE videos SET status = $1 WHERE id = $2`

	refreshVideoStatusQuery = `UPDATE videos v SET status = agg.status FROM (
					SELECT video_id,
						CASE
							WHEN COUNT(*) FILTER (WHERE status IN ('pending', 'processing')) > 0
								AND COUNT(*) FILTER (WHERE status <> 'pending') > 0 THEN 'processing'
							WHEN COUNT(*) FILTER (WHERE status <> 'pending') = 0 THEN 'uploaded'
							WHEN COUNT(*) FILTER (WHERE status = 'failed') > 0 THEN 'failed'
							ELSE 'ready'
						END AS status
					FROM transcoding_jobs WHERE video_id = $1 GROUP BY video_id
				) agg
				WHERE v.id = agg.video_id AND v.status <> 'uploading'
				RETURNING v.status`

	createJobQuery = `INSERT INTO transcoding_jobs (id, video_id, resolution, status, created_at)
					VALUES ($1, $2, $3, $4, $5)`
	getJobByIDQuery     = `SELECT ` + jobColumns + ` FROM transcoding_jobs WHERE id = $1`
	getJobQuery         = `SELECT ` + jobColumns + ` FROM transcoding_jobs WHERE video_id = $1 AND resolution = $2`
	getJobsByVideoQuery = `SELECT ` + jobColumns + ` FROM transcoding_jobs WHERE video_id = $1 ORDER BY created_at, resolution`

	claimJobQuery = `UPDATE transcoding_jobs
					SET status = 'processing', worker_id = $3, started_at = $4
					WHERE video_id = $1 AND resolution = $2 AND status IN ('pending', 'processing')
					RETURNING ` + jobColumns
	recordJobErrorQuery = `UPDATE transcoding_jobs SET error_message = $3
					WHERE id = $1 AND status = 'processing' AND worker_id = $2`
	completeJobQuery = `UPDATE transcoding_jobs
					SET status = 'completed', output_path = $3, output_size = $4, completed_at = $5, error_message = NULL
					WHERE id = $1 AND status = 'processing' AND worker_id = $2
					RETURNING ` + jobColumns
	failJobQuery = `UPDATE transcoding_jobs
					SET status = 'failed', error_message = $3, completed_at = $4, worker_id = COALESCE(worker_id, $2)
					WHERE id = $1 AND status IN ('pending', 'processing') AND COALESCE(worker_id, $2) = $2
					RETURNING ` + jobColumns

	listStaleJobsQuery = `SELECT j.id, j.video_id, j.resolution, j.status, j.output_path, j.output_size, j.started_at,
					j.completed_at, j.error_message, j.worker_id, j.created_at,
					v.original_filename, COALESCE(v.storage_path, '') AS source_object_key
					FROM transcoding_jobs j JOIN videos v ON v.id = j.video_id
					WHERE j.status = $1 AND j.created_at < $2
					ORDER BY j.created_at LIMIT $3`
)
