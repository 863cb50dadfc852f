// tableclear publishes a full-reset command for one switch table. The
// running controller picks it up through the operator command watcher.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"time"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hulanet/fabric-control/internal/opcmd"
)

func main() {
	var (
		endpoint = flag.String("etcd", "localhost:2379", "etcd endpoint")
		switchID = flag.String("switch", "", "target switch id")
		table    = flag.String("table", "", "table to clear")
	)
	flag.Parse()
	if *switchID == "" || *table == "" {
		log.Fatal().Msg("both -switch and -table are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clnt, err := clientv3.New(clientv3.Config{Endpoints: []string{*endpoint}})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create etcd client")
	}
	defer clnt.Close()

	value, err := json.Marshal(opcmd.Command{Table: *table, Op: "clear"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode command")
	}
	_, err = clnt.KV.Put(ctx, opcmd.CommandPrefix+*switchID, string(value))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to publish command")
	}
	log.Info().Msgf("requested clear of %q on switch %s", *table, *switchID)
}
