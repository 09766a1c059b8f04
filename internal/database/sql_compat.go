package database

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// activeDriver is set by Open from the loaded configuration.
var activeDriver string

func setActiveDriver(driver string) {
	activeDriver = strings.ToLower(driver)
}

// GetDBDriver returns the current database driver.
func GetDBDriver() string {
	// In test mode, prefer TEST_ prefixed environment variables
	driver := os.Getenv("TEST_DB_DRIVER")
	if driver == "" {
		driver = activeDriver
	}
	if driver == "" {
		driver = os.Getenv("DB_DRIVER")
	}
	if driver == "" {
		driver = "mysql"
	}
	return strings.ToLower(driver)
}

// IsMySQL returns true if using MySQL/MariaDB.
func IsMySQL() bool {
	driver := GetDBDriver()
	return driver == "mysql" || driver == "mariadb"
}

// IsPostgreSQL returns true if using PostgreSQL.
func IsPostgreSQL() bool {
	return GetDBDriver() == "postgres"
}

var dollarPlaceholder = regexp.MustCompile(`\$\d+`)

// ConvertPlaceholders converts SQL placeholders to the format required by the
// current database. Queries must be written with ? placeholders only:
//   - MySQL: passed through as-is
//   - PostgreSQL: ? converted to $1, $2, ...
//
// $N placeholders in the input are rejected to keep every query portable.
func ConvertPlaceholders(query string) string {
	if dollarPlaceholder.MatchString(query) {
		panic(fmt.Sprintf("ConvertPlaceholders: $N placeholders are not allowed. Use ? placeholders instead.\nQuery: %s", query))
	}

	if IsMySQL() {
		return query
	}

	if !strings.Contains(query, "?") {
		return query
	}
	var result strings.Builder
	paramNum := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&result, "$%d", paramNum)
			paramNum++
		} else {
			result.WriteRune(c)
		}
	}
	return result.String()
}
