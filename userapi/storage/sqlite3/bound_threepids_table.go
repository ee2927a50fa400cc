package sqlite3

import (
	"context"
	"database/sql"

	"github.com/halcyonchat/halcyon/internal/sqlutil"
	"github.com/halcyonchat/halcyon/userapi/storage/tables"
)

// The id_server column holds the canonical identity server name, never the
// rewritten host that was dialled for it.
const boundThreePIDsSchema = `
CREATE TABLE IF NOT EXISTS userapi_bound_threepids (
	user_id TEXT NOT NULL,
	medium TEXT NOT NULL,
	address TEXT NOT NULL,
	id_server TEXT NOT NULL,
	UNIQUE (user_id, medium, address, id_server)
);

CREATE INDEX IF NOT EXISTS userapi_bound_threepids_idx ON userapi_bound_threepids(user_id, medium, address);
`

const insertBoundThreePIDSQL = "" +
	"INSERT INTO userapi_bound_threepids (user_id, medium, address, id_server) VALUES ($1, $2, $3, $4)"

const deleteBoundThreePIDSQL = "" +
	"DELETE FROM userapi_bound_threepids WHERE user_id = $1 AND medium = $2 AND address = $3 AND id_server = $4"

const selectIDServersForBoundThreePIDSQL = "" +
	"SELECT id_server FROM userapi_bound_threepids WHERE user_id = $1 AND medium = $2 AND address = $3"

type boundThreePIDsStatements struct {
	db                                  *sql.DB
	insertBoundThreePIDStmt             *sql.Stmt
	deleteBoundThreePIDStmt             *sql.Stmt
	selectIDServersForBoundThreePIDStmt *sql.Stmt
}

func NewSQLiteBoundThreePIDTable(db *sql.DB) (tables.BoundThreePIDTable, error) {
	s := &boundThreePIDsStatements{
		db: db,
	}
	_, err := db.Exec(boundThreePIDsSchema)
	if err != nil {
		return nil, err
	}
	return s, sqlutil.StatementList{
		{&s.insertBoundThreePIDStmt, insertBoundThreePIDSQL},
		{&s.deleteBoundThreePIDStmt, deleteBoundThreePIDSQL},
		{&s.selectIDServersForBoundThreePIDStmt, selectIDServersForBoundThreePIDSQL},
	}.Prepare(db)
}

func (s *boundThreePIDsStatements) InsertBoundThreePID(
	ctx context.Context, txn *sql.Tx, userID, medium, address, idServer string,
) (err error) {
	stmt := sqlutil.TxStmt(txn, s.insertBoundThreePIDStmt)
	_, err = stmt.ExecContext(ctx, userID, medium, address, idServer)
	return
}

func (s *boundThreePIDsStatements) DeleteBoundThreePID(
	ctx context.Context, txn *sql.Tx, userID, medium, address, idServer string,
) (err error) {
	stmt := sqlutil.TxStmt(txn, s.deleteBoundThreePIDStmt)
	_, err = stmt.ExecContext(ctx, userID, medium, address, idServer)
	return
}

func (s *boundThreePIDsStatements) SelectIDServersForBoundThreePID(
	ctx context.Context, txn *sql.Tx, userID, medium, address string,
) (idServers []string, err error) {
	stmt := sqlutil.TxStmt(txn, s.selectIDServersForBoundThreePIDStmt)
	rows, err := stmt.QueryContext(ctx, userID, medium, address)
	if err != nil {
		return
	}
	defer sqlutil.CloseAndLogIfError(rows, "SelectIDServersForBoundThreePID: rows.close() failed")

	for rows.Next() {
		var idServer string
		if err = rows.Scan(&idServer); err != nil {
			return
		}
		idServers = append(idServers, idServer)
	}
	return idServers, rows.Err()
}
