// Package cassandra is a rowbatch Store over Cassandra.
//
// Every table lives in one partition of the rb_rows table, keyed by row id, with the row's
// columns in a map<text,text> of JSON encoded values. Column merges happen server-side and
// bulk writes go out as one logged batch.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"github.com/sethvargo/go-retry"

	"github.com/sharedcode/rowbatch"
)

// Config contains configuration for connecting to a Cassandra cluster and the rowbatch keyspace.
type Config struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string `json:"cluster_hosts"`
	// Keyspace is the keyspace holding the rowbatch tables.
	Keyspace string `json:"keyspace"`
	// Consistency is the default consistency level for queries.
	Consistency gocql.Consistency `json:"consistency"`
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration `json:"connection_timeout"`
	// Authenticator is used when the cluster requires authentication.
	Authenticator gocql.Authenticator `json:"-"`
	// ReplicationClause defines the keyspace replication (e.g., SimpleStrategy).
	ReplicationClause string `json:"replication_clause"`
	// LockTTL bounds how long a transaction lock outlives a crashed owner.
	LockTTL time.Duration `json:"lock_ttl"`

	// ConsistencyBook allows overriding per-API consistency levels.
	ConsistencyBook ConsistencyBook `json:"consistency_book"`
}

// ConsistencyBook enumerates per-API consistency levels used by this package.
type ConsistencyBook struct {
	RowAdd    gocql.Consistency `json:"row_add"`
	RowUpdate gocql.Consistency `json:"row_update"`
	RowGet    gocql.Consistency `json:"row_get"`
	RowRemove gocql.Consistency `json:"row_remove"`
}

// Connection wraps a Cassandra session and its configuration.
type Connection struct {
	Session *gocql.Session
	Config
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated reports whether a global Connection has been created.
func IsConnectionInstantiated() bool {
	return connection != nil
}

// OpenConnection returns the existing global Connection or opens a new one using the provided config.
// The keyspace and the rowbatch tables are created when missing.
func OpenConnection(config Config) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()

	if connection != nil {
		return connection, nil
	}
	if config.Keyspace == "" {
		// default keyspace
		config.Keyspace = "rowbatch"
	}
	if config.Consistency == gocql.Any {
		// Defaults to LocalQuorum consistency. You should set it to an appropriate level.
		config.Consistency = gocql.LocalQuorum
	}
	if config.LockTTL < time.Second {
		config.LockTTL = 30 * time.Second
	}
	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Consistency = config.Consistency
	if config.ReplicationClause == "" {
		// Specify an appropriate replication feature.
		config.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	if config.Authenticator != nil {
		cluster.Authenticator = config.Authenticator
		// Clear the authenticator just to be safer, we don't need to keep it hanging around.
		config.Authenticator = nil
	}
	var c = Connection{
		Config: config,
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	if err := createSchema(s, config); err != nil {
		s.Close()
		return nil, err
	}

	c.Session = s
	connection = &c
	return connection, nil
}

func createSchema(s *gocql.Session, config Config) error {
	statements := []string{
		fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", config.Keyspace, config.ReplicationClause),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.rb_tables (name text PRIMARY KEY, id UUID);", config.Keyspace),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.rb_rows (tid UUID, rid UUID, seq bigint, cols map<text,text>, PRIMARY KEY(tid, rid));", config.Keyspace),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.rb_locks (name text PRIMARY KEY, owner UUID);", config.Keyspace),
	}
	for _, stmt := range statements {
		// A cluster still starting up or agreeing on schema fails DDL for a while.
		err := rowbatch.Retry(context.Background(), func(ctx context.Context) error {
			if err := s.Query(stmt).WithContext(ctx).Exec(); err != nil {
				if isTransient(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			return nil
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// isTransient reports whether err is a timeout or availability failure worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, gocql.ErrNoConnections) || errors.Is(err, gocql.ErrTimeoutNoResponse) || errors.Is(err, gocql.ErrConnectionClosed) {
		return true
	}
	var unavailable *gocql.RequestErrUnavailable
	var writeTimeout *gocql.RequestErrWriteTimeout
	var readTimeout *gocql.RequestErrReadTimeout
	return errors.As(err, &unavailable) || errors.As(err, &writeTimeout) || errors.As(err, &readTimeout)
}

// CloseConnection closes and clears the global connection, if it exists.
func CloseConnection() {
	if connection != nil {
		mux.Lock()
		defer mux.Unlock()
		if connection == nil {
			return
		}
		connection.Session.Close()
		connection = nil
	}
}
