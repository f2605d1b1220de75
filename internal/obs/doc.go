// Package obs holds the logging setup shared by the library and the CLI.
//
// Library code never configures logging itself. Components accept a
// logrus.FieldLogger and fall back to the standard logger; the binary calls
// Setup once at startup.
package obs
