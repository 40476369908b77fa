package recorder

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (start_time,
                      drone_version,
                      address)
VALUES (?, ?, ?)`

	insertTelemetrySQL = `
INSERT INTO telemetry (session_id,
                       timestamp,
                       seq,
                       state,
                       flying,
                       emergency,
                       battery,
                       altitude,
                       pitch,
                       roll,
                       yaw,
                       vx,
                       vy,
                       vz)
VALUES `

	telemetryPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	insertConfigurationSQL = `
INSERT INTO configurations (session_id,
                            timestamp,
                            revision,
                            firmware,
                            data)
VALUES (?, ?, ?, ?, ?)`

	countTelemetrySQL = `
SELECT COUNT(*)
FROM telemetry
WHERE session_id = ?`

	selectConfigurationsSQL = `
SELECT revision,
       data
FROM configurations
WHERE session_id = ?
ORDER BY id`
)

//go:embed schema.sql
var schemaSQL string
