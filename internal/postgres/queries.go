package postgres

const roomColumns = `id, listing_id, buyer_id, seller_id, status, created_at, last_activity,
	buyer_last_activity, closed_at, closed_by, buyer_last_read, seller_last_read,
	message_seq, last_message_at`

const messageColumns = `id, room_id, seq, sender_id, kind, content, attachment_ref, attachment_name,
	created_at, edited_at, is_edited, is_deleted`

const notificationColumns = `id, recipient_id, room_id, message_id, kind, title, body, is_read,
	created_at, read_at`

// курсор чтения участника $1 в строке r
const readCursorExpr = `CASE WHEN r.buyer_id = $1 THEN r.buyer_last_read ELSE r.seller_last_read END`

const (
	QueryInsertRoom = `
		INSERT INTO chat_rooms (id, listing_id, buyer_id, seller_id, status,
		                        created_at, last_activity, buyer_last_activity)
		VALUES ($1, $2, $3, $4, 'active', $5, $5, $5)
		ON CONFLICT (listing_id, buyer_id) DO NOTHING`

	QueryLockRoomByPair = `
		SELECT ` + roomColumns + `
		FROM chat_rooms
		WHERE listing_id = $1 AND buyer_id = $2
		FOR UPDATE`

	QueryReopenRoom = `
		UPDATE chat_rooms
		SET status = 'active', closed_at = NULL, closed_by = NULL,
		    last_activity = $2, buyer_last_activity = $2
		WHERE id = $1`

	QueryGetRoom = `SELECT ` + roomColumns + ` FROM chat_rooms WHERE id = $1`

	QueryLockRoom = `SELECT ` + roomColumns + ` FROM chat_rooms WHERE id = $1 FOR UPDATE`

	QueryRoomExists = `SELECT EXISTS(SELECT 1 FROM chat_rooms WHERE id = $1)`

	QueryListRoomsForUser = `
		SELECT ` + roomColumns + `,
		       (SELECT COUNT(*) FROM chat_messages m
		        WHERE m.room_id = r.id AND m.sender_id <> $1 AND NOT m.is_deleted
		          AND m.created_at > COALESCE(` + readCursorExpr + `, '-infinity'::timestamptz)) AS unread
		FROM chat_rooms r
		WHERE (r.buyer_id = $1 OR r.seller_id = $1)
		  AND ($2::timestamptz IS NULL
		       OR r.last_activity < $2
		       OR (r.last_activity = $2 AND r.id < $3::text))
		ORDER BY r.last_activity DESC, r.id DESC
		LIMIT $4`

	QueryTotalUnread = `
		SELECT COUNT(*)
		FROM chat_messages m
		JOIN chat_rooms r ON r.id = m.room_id
		WHERE (r.buyer_id = $1 OR r.seller_id = $1)
		  AND m.sender_id <> $1 AND NOT m.is_deleted
		  AND m.created_at > COALESCE(` + readCursorExpr + `, '-infinity'::timestamptz)`

	QueryUnreadInRoom = `
		SELECT COUNT(*)
		FROM chat_messages
		WHERE room_id = $1 AND sender_id <> $2 AND NOT is_deleted
		  AND ($3::timestamptz IS NULL OR created_at > $3)`

	QueryMarkRead = `
		UPDATE chat_rooms
		SET buyer_last_read = CASE WHEN buyer_id = $2
		        THEN GREATEST(COALESCE(buyer_last_read, '-infinity'::timestamptz), $3,
		                      COALESCE(last_message_at, '-infinity'::timestamptz))
		        ELSE buyer_last_read END,
		    seller_last_read = CASE WHEN seller_id = $2
		        THEN GREATEST(COALESCE(seller_last_read, '-infinity'::timestamptz), $3,
		                      COALESCE(last_message_at, '-infinity'::timestamptz))
		        ELSE seller_last_read END
		WHERE id = $1 AND (buyer_id = $2 OR seller_id = $2)
		RETURNING CASE WHEN buyer_id = $2 THEN buyer_last_read ELSE seller_last_read END`

	QueryCloseRoom = `
		UPDATE chat_rooms
		SET status = 'closed', closed_at = $3, closed_by = $2, last_activity = $3
		WHERE id = $1
		RETURNING ` + roomColumns

	QueryCloseIfIdle = `
		UPDATE chat_rooms
		SET status = 'closed', closed_at = $3, closed_by = 'system', last_activity = $3
		WHERE id = $1 AND status = 'active' AND buyer_last_activity < $2
		RETURNING ` + roomColumns

	QueryListIdleRooms = `
		SELECT ` + roomColumns + `
		FROM chat_rooms
		WHERE status = 'active' AND buyer_last_activity < $1
		ORDER BY buyer_last_activity ASC
		LIMIT $2`

	QueryTouchBuyer = `
		UPDATE chat_rooms
		SET buyer_last_activity = GREATEST(buyer_last_activity, $3)
		WHERE id = $1 AND buyer_id = $2`
)

const (
	QueryInsertMessage = `
		INSERT INTO chat_messages (id, room_id, seq, sender_id, kind, content,
		                           attachment_ref, attachment_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	QueryAdvanceRoom = `
		UPDATE chat_rooms
		SET message_seq = $2, last_message_at = $3, last_activity = $3,
		    buyer_last_activity = CASE WHEN buyer_id = $4 THEN $3 ELSE buyer_last_activity END
		WHERE id = $1`

	QueryLockMessage = `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE room_id = $1 AND id = $2
		FOR UPDATE`

	QueryUpdateMessage = `
		UPDATE chat_messages
		SET content = $3, attachment_ref = $4, attachment_name = $5,
		    edited_at = $6, is_edited = $7, is_deleted = $8
		WHERE room_id = $1 AND id = $2`

	QueryMessageSeq = `SELECT seq FROM chat_messages WHERE room_id = $1 AND id = $2`

	QueryListMessages = `
		SELECT ` + messageColumns + `
		FROM chat_messages
		WHERE room_id = $1 AND seq > $2
		  AND ($3::timestamptz IS NULL OR created_at > $3)
		ORDER BY seq ASC
		LIMIT $4`
)

const (
	QueryInsertNotification = `
		INSERT INTO notifications (id, recipient_id, room_id, message_id, kind, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	QueryListNotifications = `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		  AND (NOT $2::boolean OR NOT is_read)
		  AND ($3::timestamptz IS NULL
		       OR created_at < $3
		       OR (created_at = $3 AND id < $4::text))
		ORDER BY created_at DESC, id DESC
		LIMIT $5`

	QueryCountUnreadNotifications = `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read`

	QueryMarkNotificationRead = `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING ` + notificationColumns
)

const (
	QueryGetListing    = `SELECT id, seller_id, title FROM listings WHERE id = $1`
	QueryUpsertListing = `
		INSERT INTO listings (id, seller_id, title) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET seller_id = EXCLUDED.seller_id, title = EXCLUDED.title`
	QueryGetUser    = `SELECT id, display_name FROM users WHERE id = $1`
	QueryUpsertUser = `
		INSERT INTO users (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`
)
