// Package config reads and writes mock server definition files.
//
// A definition file lists servers with their endpoints, in YAML or JSON:
//
//	servers:
//	  - id: users-api
//	    port: 4010
//	    endpoints:
//	      - method: GET
//	        path: /users/:id
//	        statusCode: 200
//	        responseBody: '{"id": 1}'
//
// Files are checked against an embedded JSON schema, then for conflicts the
// schema cannot express (duplicate ids or ports). Omitted ids are generated
// and omitted "enabled" flags default to true.
package config
