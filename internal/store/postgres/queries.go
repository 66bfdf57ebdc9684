package postgres

const queryListEnabledPreferences = `
SELECT user_id, display_name, channel, address, delivery_time, timezone, enabled, style
FROM delivery_preferences
WHERE enabled = true
ORDER BY user_id
LIMIT $1 OFFSET $2
`

const queryGetPreference = `
SELECT user_id, display_name, channel, address, delivery_time, timezone, enabled, style
FROM delivery_preferences
WHERE user_id = $1
`

const queryListOpenTasks = `
SELECT id, title, priority, due_at, status
FROM tasks
WHERE user_id = $1
  AND status <> 'done'
  AND (due_at IS NULL OR due_at < $2)
ORDER BY due_at NULLS LAST, id
`

const queryGetConnection = `
SELECT user_id, provider, endpoint, username, secret
FROM user_connections
WHERE user_id = $1 AND provider = $2
`

const queryInsertNotification = `
INSERT INTO notifications (id, user_id, kind, title, body, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
`

const queryHasDelivered = `
SELECT EXISTS (
    SELECT 1 FROM delivery_records
    WHERE user_id = $1 AND calendar_day = $2::date AND delivered
)
`

const queryInsertDeliveryRecord = `
INSERT INTO delivery_records (id, user_id, calendar_day, channel, delivered, narrative_source, failure_reason, created_at)
VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
`

const queryDeliveryHistory = `
SELECT id, user_id, calendar_day::text, channel, delivered, narrative_source, failure_reason, created_at
FROM delivery_records
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2
`

const queryUndeliveredFailures = `
SELECT DISTINCT f.user_id, f.calendar_day::text
FROM delivery_records f
WHERE NOT f.delivered
  AND f.created_at >= $1
  AND NOT EXISTS (
      SELECT 1 FROM delivery_records d
      WHERE d.user_id = f.user_id AND d.calendar_day = f.calendar_day AND d.delivered
  )
ORDER BY f.user_id, f.calendar_day::text
LIMIT $2
`
