// Package api contains the typed resource clients for the opsdeck API:
// auth, users, audit log, settings, and jobs. The clients only shape
// requests and decode responses; bearer-token handling and 401 recovery
// belong to the transport package.
package api
