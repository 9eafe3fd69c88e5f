package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv applies environment variable overrides. Endpoints and credentials usually
// live in the environment (or a .env file) rather than in the YAML.
//
//	PG_DSN, PG_ENABLED, PG_MAX_OPEN_CONNS, PG_MAX_IDLE_CONNS
//	REDIS_ADDR
//	KAFKA_BROKERS (comma separated), KAFKA_TOPIC
//	RPC_URL_<chainId>, INDEXER_URL_<chainId>, WS_URL_<chainId>
func (c *Config) ApplyEnv() {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if enabled := os.Getenv("PG_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			c.Database.Enabled = val
		}
	}
	if maxOpen := os.Getenv("PG_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			c.Database.MaxOpenConns = val
		}
	}
	if maxIdle := os.Getenv("PG_MAX_IDLE_CONNS"); maxIdle != "" {
		if val, err := strconv.Atoi(maxIdle); err == nil {
			c.Database.MaxIdleConns = val
		}
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Cache.RedisAddr = addr
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
		c.Kafka.Enabled = len(c.Kafka.Brokers) > 0
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		c.Kafka.Topic = topic
	}

	for i := range c.Chains {
		ch := &c.Chains[i]
		if v := os.Getenv(fmt.Sprintf("RPC_URL_%d", ch.ID)); v != "" {
			ch.RPCURL = v
		}
		if v := os.Getenv(fmt.Sprintf("INDEXER_URL_%d", ch.ID)); v != "" {
			ch.IndexerURL = v
		}
		if v := os.Getenv(fmt.Sprintf("WS_URL_%d", ch.ID)); v != "" {
			ch.WSURL = v
		}
	}
}
