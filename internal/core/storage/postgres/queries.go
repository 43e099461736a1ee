package postgres

// SQL statements for the medallion tables. Change-log appends share the
// bronze write transaction so change_seq order is commit order.

const (
	queryBronzeKeyExists = `
		SELECT EXISTS (
			SELECT 1 FROM raw_employees WHERE employee_number = $1
		)
	`

	queryInsertRawEmployee = `
		INSERT INTO raw_employees (
			employee_number, first_name, last_name, gender, age,
			department, position, hire_date, tenure_years,
			engagement_survey, loaded_at, source_file
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	// Bronze rows are never mutated in place: a re-load removes the old row
	// and inserts the fresh extract (whole-row replace).
	queryDeleteRawEmployee = `
		DELETE FROM raw_employees WHERE employee_number = $1
	`

	queryAppendChange = `
		INSERT INTO bronze_changes (
			employee_number, action, is_update, payload, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5)
	`

	// queryPollChanges fetches events past a cursor in strict change_seq
	// order. Monotonic sequence pagination avoids batch-boundary loss.
	queryPollChanges = `
		SELECT change_seq, employee_number, action, is_update, payload, recorded_at
		FROM bronze_changes
		WHERE change_seq > $1
		ORDER BY change_seq ASC
		LIMIT $2
	`

	queryHasPendingChanges = `
		SELECT EXISTS (
			SELECT 1 FROM bronze_changes
			WHERE change_seq > COALESCE(
				(SELECT cursor FROM feed_checkpoints WHERE consumer = $1), 0
			)
		)
	`

	queryReadCheckpoint = `SELECT cursor FROM feed_checkpoints WHERE consumer = $1`

	queryInitCheckpointRow = `
		INSERT INTO feed_checkpoints (consumer, cursor, updated_at)
		VALUES ($1, 0, $2)
		ON CONFLICT (consumer) DO NOTHING
	`

	// queryAdvanceCheckpoint is a compare-and-swap: it only moves the
	// cursor if it still holds the value the batch was polled against.
	// Zero rows affected means another consumer won the race.
	queryAdvanceCheckpoint = `
		UPDATE feed_checkpoints
		SET cursor = $1, updated_at = $2
		WHERE consumer = $3 AND cursor = $4
	`

	// queryUpsertStagedEmployee resolves insert-vs-update by key existence
	// in the target — the authoritative signal, regardless of what the
	// upstream change flag claims.
	queryUpsertStagedEmployee = `
		INSERT INTO staged_employees (
			employee_number, first_name, last_name, gender, age,
			department, position, hire_date, tenure_years,
			satisfaction, work_life_balance, career_growth, communication, teamwork,
			staged_at, source_object, etl_run_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (employee_number) DO UPDATE SET
			first_name        = EXCLUDED.first_name,
			last_name         = EXCLUDED.last_name,
			gender            = EXCLUDED.gender,
			age               = EXCLUDED.age,
			department        = EXCLUDED.department,
			position          = EXCLUDED.position,
			hire_date         = EXCLUDED.hire_date,
			tenure_years      = EXCLUDED.tenure_years,
			satisfaction      = EXCLUDED.satisfaction,
			work_life_balance = EXCLUDED.work_life_balance,
			career_growth     = EXCLUDED.career_growth,
			communication     = EXCLUDED.communication,
			teamwork          = EXCLUDED.teamwork,
			staged_at         = EXCLUDED.staged_at,
			source_object     = EXCLUDED.source_object,
			etl_run_id        = EXCLUDED.etl_run_id
	`

	queryDeleteStagedEmployee = `
		DELETE FROM staged_employees WHERE employee_number = $1
	`

	queryLoadStagedSnapshot = `
		SELECT
			employee_number, first_name, last_name, gender, age,
			department, position, hire_date, tenure_years,
			satisfaction, work_life_balance, career_growth, communication, teamwork,
			staged_at, source_object, etl_run_id
		FROM staged_employees
		ORDER BY employee_number ASC
	`

	queryDeleteAllDemographics = `DELETE FROM dept_demographics`

	queryInsertDemographics = `
		INSERT INTO dept_demographics (
			department, headcount, avg_age, avg_tenure,
			male_count, female_count, other_count, refreshed_at, etl_run_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	queryDeleteAllSurveyScores = `DELETE FROM dept_survey_scores`

	queryInsertSurveyScores = `
		INSERT INTO dept_survey_scores (
			department, num_responses, avg_satisfaction, avg_work_life_balance,
			avg_career_growth, avg_communication, avg_teamwork, refreshed_at, etl_run_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	queryDemographics = `
		SELECT
			department, headcount, avg_age, avg_tenure,
			male_count, female_count, other_count, refreshed_at, etl_run_id
		FROM dept_demographics
		WHERE ($1 = '' OR department = $1)
		ORDER BY department ASC
	`

	querySurveyScores = `
		SELECT
			department, num_responses, avg_satisfaction, avg_work_life_balance,
			avg_career_growth, avg_communication, avg_teamwork, refreshed_at, etl_run_id
		FROM dept_survey_scores
		WHERE ($1 = '' OR department = $1)
		ORDER BY department ASC
	`

	queryLastRefreshedAt = `
		SELECT GREATEST(
			COALESCE((SELECT MAX(refreshed_at) FROM dept_demographics), 'epoch'::timestamptz),
			COALESCE((SELECT MAX(refreshed_at) FROM dept_survey_scores), 'epoch'::timestamptz)
		)
	`

	queryAppendRunLog = `
		INSERT INTO pipeline_run_logs (
			run_id, stage, status, rows_affected, duration_ms,
			source_object, target_object, error_message, logged_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	queryRunLogEntries = `
		SELECT
			run_id, stage, status, rows_affected, duration_ms,
			source_object, target_object, error_message, logged_at
		FROM pipeline_run_logs
		WHERE run_id = $1
		ORDER BY id ASC
	`

	queryAppendQualityResult = `
		INSERT INTO data_quality_results (
			check_name, layer, table_name, issue_count, sample_details, etl_run_id, checked_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	queryLatestQualityResults = `
		SELECT DISTINCT ON (check_name)
			check_name, layer, table_name, issue_count, sample_details, etl_run_id, checked_at
		FROM data_quality_results
		ORDER BY check_name ASC, checked_at DESC
	`
)
