package store

const (
	orderColumns = `
		id, topic, word_count, status, price, api_cost, content, customer_email,
		payment_reference, payment_initiation_ref, created_at, updated_at`

	// Insert into 'orders' table, status defaults to 'created'
	qInsertOrder = `
		INSERT INTO orders (
			topic, word_count, price, customer_email, payment_initiation_ref, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, NOW(), NOW()
		) RETURNING` + orderColumns + `;`

	qGetOrderByID = `SELECT` + orderColumns + ` FROM orders WHERE id = $1;`

	qGetOrderByPaymentRef = `SELECT` + orderColumns + ` FROM orders WHERE payment_reference = $1;`

	qGetOrderByInitiationRef = `SELECT` + orderColumns + ` FROM orders WHERE payment_initiation_ref = $1;`

	// Applies only the non-null parameters. $6 is the optional status
	// guard: when set, the row is only touched if its status still matches.
	qUpdateOrder = `
		UPDATE orders SET
			status            = COALESCE($2::text, status),
			payment_reference = COALESCE($3::text, payment_reference),
			content           = COALESCE($4::text, content),
			api_cost          = COALESCE($5::bigint, api_cost),
			updated_at        = NOW()
		WHERE id = $1 AND ($6::text IS NULL OR status = $6::text)
		RETURNING` + orderColumns + `;`

	qGetOrderStatus = `SELECT status FROM orders WHERE id = $1;`

	// Pins the pagination cursor for a first page request.
	qMaxOrderID = `SELECT COALESCE(MAX(id), 0) FROM orders;`

	qStats = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('created', 'payment_confirmed', 'processing')),
			COALESCE(SUM(price), 0)
		FROM orders;`

	qListByStatus = `SELECT` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY id LIMIT $2;`

	qSelectSettings = `SELECT section, value FROM settings;`

	// Seeds a section only if nobody else did it first.
	qSeedSetting = `
		INSERT INTO settings (section, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (section) DO NOTHING;`

	qUpsertSetting = `
		INSERT INTO settings (section, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (section) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW();`
)
