// Package common provides helpers shared by the MCP tool packages.
package common
