// Package credentials persists the dashboard access token between runs.
//
// The token is kept in a TOML file (mode 0600) together with the time it was
// saved and an optional expiration. Load treats expired tokens as absent, so
// the session asks for a new credential instead of connecting with a token
// the server will reject. Writes go through a temp file and a rename.
package credentials
