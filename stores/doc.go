// Copyright (c) Microsoft. All rights reserved.

// Package stores groups the durable [agentframework.ThreadStore]
// implementations:
//
//   - sqlitestore: a single SQLite file, for local agents and samples
//   - pgstore: PostgreSQL through a pgx connection pool
//   - mongostore: MongoDB, one document per message
//
// Every store encodes messages with [agentframework.MarshalMessageJSON]
// and passes the conformance suite in storetest.
package stores
