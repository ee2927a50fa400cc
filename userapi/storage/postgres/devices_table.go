package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/halcyonchat/halcyon/internal/sqlutil"
	"github.com/halcyonchat/halcyon/userapi/api"
	"github.com/halcyonchat/halcyon/userapi/storage/tables"
)

const devicesSchema = `
CREATE TABLE IF NOT EXISTS userapi_devices (
	access_token TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	localpart TEXT NOT NULL,
	server_name TEXT NOT NULL,
	created_ts BIGINT NOT NULL,
	UNIQUE (localpart, server_name, device_id)
);
`

const insertDeviceSQL = "" +
	"INSERT INTO userapi_devices (access_token, device_id, localpart, server_name, created_ts) VALUES ($1, $2, $3, $4, $5)"

const selectDeviceByTokenSQL = "" +
	"SELECT device_id, localpart, server_name FROM userapi_devices WHERE access_token = $1"

const deleteDeviceSQL = "" +
	"DELETE FROM userapi_devices WHERE device_id = $1 AND localpart = $2 AND server_name = $3"

type devicesStatements struct {
	insertDeviceStmt        *sql.Stmt
	selectDeviceByTokenStmt *sql.Stmt
	deleteDeviceStmt        *sql.Stmt
}

func NewPostgresDeviceTable(db *sql.DB) (tables.DeviceTable, error) {
	s := &devicesStatements{}
	_, err := db.Exec(devicesSchema)
	if err != nil {
		return nil, err
	}
	return s, sqlutil.StatementList{
		{&s.insertDeviceStmt, insertDeviceSQL},
		{&s.selectDeviceByTokenStmt, selectDeviceByTokenSQL},
		{&s.deleteDeviceStmt, deleteDeviceSQL},
	}.Prepare(db)
}

func (s *devicesStatements) InsertDevice(
	ctx context.Context, txn *sql.Tx, deviceID, localpart, serverName, accessToken string,
) (err error) {
	nowMilli := time.Now().UnixNano() / int64(time.Millisecond)
	stmt := sqlutil.TxStmt(txn, s.insertDeviceStmt)
	_, err = stmt.ExecContext(ctx, accessToken, deviceID, localpart, serverName, nowMilli)
	return
}

func (s *devicesStatements) SelectDeviceByToken(
	ctx context.Context, accessToken string,
) (*api.Device, error) {
	var deviceID, localpart, serverName string
	err := s.selectDeviceByTokenStmt.QueryRowContext(ctx, accessToken).Scan(&deviceID, &localpart, &serverName)
	if err != nil {
		return nil, err
	}
	return &api.Device{
		ID:          deviceID,
		UserID:      fmt.Sprintf("@%s:%s", localpart, serverName),
		AccessToken: accessToken,
	}, nil
}

func (s *devicesStatements) DeleteDevice(
	ctx context.Context, txn *sql.Tx, deviceID, localpart, serverName string,
) (err error) {
	stmt := sqlutil.TxStmt(txn, s.deleteDeviceStmt)
	_, err = stmt.ExecContext(ctx, deviceID, localpart, serverName)
	return
}
