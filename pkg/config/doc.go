// Package config holds validated settings for the tenancy core.
//
// Configuration is an explicit value constructed once at startup and passed
// into the core's constructors; there is no mutable global. LoadConfig reads
// TENANCY_* environment variables, LoadRoleDefinitions parses an optional
// YAML file of custom role definitions, and Validate rejects invalid
// settings synchronously so configuration errors can never surface mid-write.
//
// Example role definitions file:
//
//	roles:
//	  - name: viewer
//	    permissions: [view_organization]
//	  - name: member
//	    inherits_from: viewer
//	    permissions: [create_content]
package config
