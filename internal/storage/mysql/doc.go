// Package mysql holds the MySQL connection pool setup and the embedded schema
// migrations shared by the run store.
package mysql
