// Package dialect papers over the SQL differences between the two drivers
// the plane supports. Stores write one schema and one query set, and ask
// this package for the few fragments that diverge.
package dialect

// Driver names as sqlx reports them via DriverName().
const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres reports whether the driver is the pgx one.
func IsPostgres(driver string) bool {
	return driver == PGX
}

// Like returns the case-insensitive LIKE operator for the driver. SQLite's
// plain LIKE is already case-insensitive for ASCII; Postgres needs ILIKE.
func Like(driver string) string {
	if IsPostgres(driver) {
		return "ILIKE"
	}
	return "LIKE"
}

// Blob returns the binary column type for the driver.
func Blob(driver string) string {
	if IsPostgres(driver) {
		return "BYTEA"
	}
	return "BLOB"
}
