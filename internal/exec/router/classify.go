package router

import (
	sqldriver "database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/querysync/core/internal/apperror"
)

// transientClass describes how a classified transient error should be
// reported once retry is exhausted.
type transientClass struct {
	apperrorKind apperror.Kind
	message      string
}

// Classify reports whether err is a recognized transient connection error
// (mssql login timeout HYT00, TCP provider error 08S01, and the
// postgres/mysql/generic equivalents of "connection lost" and "connection
// timed out"), and if so which apperror.Kind it ultimately maps to.
func Classify(err error) (transientClass, bool) {
	if err == nil {
		return transientClass{}, false
	}

	// go-mssqldb's native TDS errors don't carry the ODBC-style SQLSTATE
	// (HYT00, 08S01); those surface in the wrapped message text on
	// login/handshake failures, so match on that directly. A
	// typed mssql.Error confirms the error actually came from this driver
	// before we trust the text match.
	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) || strings.Contains(msg(err), "HYT00") || strings.Contains(msg(err), "08S01") {
		switch {
		case strings.Contains(msg(err), "HYT00"):
			return transientClass{apperror.GatewayTimeout, "login timeout"}, true
		case strings.Contains(msg(err), "08S01"):
			return transientClass{apperror.BadGateway, "communication link failure"}, true
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return transientClass{apperror.BadGateway, "connection exception: " + pgErr.Code}, true
		}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 2006, 2013, 1053:
			return transientClass{apperror.BadGateway, "server has gone away"}, true
		}
	}

	if errors.Is(err, sqldriver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return transientClass{apperror.BadGateway, "connection lost"}, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transientClass{apperror.GatewayTimeout, "network timeout"}, true
	}

	return transientClass{}, false
}

func msg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
