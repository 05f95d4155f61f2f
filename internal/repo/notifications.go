package repo

import (
	"context"
	"database/sql"

	"machinepark/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO notifications(sender_id,recipient_id,machine_id,kind,message,created_at) VALUES (?,?,?,?,?,?)`,
		n.SenderID, n.RecipientID, n.MachineID, n.Kind, n.Message, n.CreatedAt)
	return err
}

func (r Repo) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT id,sender_id,recipient_id,machine_id,kind,message,read_at,created_at FROM notifications WHERE recipient_id=?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var readAt sql.NullString
		if err := rows.Scan(&n.ID, &n.SenderID, &n.RecipientID, &n.MachineID, &n.Kind, &n.Message, &readAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		if readAt.Valid {
			n.ReadAt = &readAt.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id int64, recipientID, readAt string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE notifications SET read_at=? WHERE id=? AND recipient_id=? AND read_at IS NULL`,
		readAt, id, recipientID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
