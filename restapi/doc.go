/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package restapi contains helpers for JSON REST API handlers: decoding request bodies
// and responding with data or errors in a uniform format.
package restapi
