// Package auditlog persists the administrative audit trail and the security event log.
//
// [SQLStore] is the durable backend over database/sql, using modernc.org/sqlite by
// default and pgx for PostgreSQL, with embedded golang-migrate migrations per dialect.
// [JSONLinesWriter] mirrors records to any io.Writer and [Tee] fans out to several
// destinations. Rows are append-only apart from security event resolution.
package auditlog
