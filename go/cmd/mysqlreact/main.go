/*
Copyright 2026 The Asyncer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// mysqlreact is a tiny diagnostic shell over the connection engine:
// it connects, pings, optionally runs one text query and prints the
// raw rows.
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"asyncer.io/mysql/go/log"
	"asyncer.io/mysql/go/mysql"
)

var (
	host     = pflag.String("host", "127.0.0.1", "server host")
	port     = pflag.Int("port", 3306, "server port")
	user     = pflag.String("user", "root", "user name")
	password = pflag.String("password", "", "password")
	dbName   = pflag.String("db", "", "default database")
	sslMode  = pflag.String("ssl-mode", "preferred", "one of disabled, preferred, required, verify-ca, verify-identity")
	query    = pflag.String("execute", "", "text query to run after the ping")
)

func parseSslMode(s string) (mysql.SslMode, error) {
	switch strings.ToLower(s) {
	case "disabled":
		return mysql.SslDisabled, nil
	case "preferred":
		return mysql.SslPreferred, nil
	case "required":
		return mysql.SslRequired, nil
	case "verify-ca":
		return mysql.SslVerifyCA, nil
	case "verify-identity":
		return mysql.SslVerifyIdentity, nil
	default:
		return 0, fmt.Errorf("unknown ssl-mode %q", s)
	}
}

// textRowHandler streams the rows of one text result and swallows the
// metadata.
func textRowHandler(msg mysql.ServerMessage, sink *mysql.Sink[*mysql.RowMessage]) {
	switch m := msg.(type) {
	case *mysql.ErrorMessage:
		sink.Error(m.ToError())
	case *mysql.OKMessage:
		sink.Complete()
	case *mysql.EOFMessage:
		if m.StatusFlags&mysql.ServerMoreResultsExists == 0 {
			sink.Complete()
		}
	case *mysql.RowMessage:
		sink.Next(m)
	case *mysql.ColumnCount, *mysql.ColumnDefinition:
	default:
		sink.Error(fmt.Errorf("unexpected %T in text result", msg))
	}
}

func printRow(row *mysql.RowMessage) error {
	r := row.FieldReader()
	defer r.Release()

	var fields []string
	for {
		head, err := r.PeekByte()
		if err != nil {
			// Exhausted.
			break
		}
		if head == mysql.NullValue {
			if err := r.SkipOneByte(); err != nil {
				return err
			}
			fields = append(fields, "NULL")
			continue
		}
		v, err := r.ReadVarIntSizedField()
		if err != nil {
			return err
		}
		fields = append(fields, string(v.Bytes()))
		v.Release()
	}
	fmt.Println(strings.Join(fields, "\t"))
	return nil
}

func run(ctx context.Context) error {
	conf := mysql.NewConfig()
	conf.Host = *host
	conf.Port = *port
	conf.User = *user
	conf.Passwd = *password
	conf.DBName = *dbName

	mode, err := parseSslMode(*sslMode)
	if err != nil {
		return err
	}
	conf.SslMode = mode

	c, err := mysql.Connect(ctx, conf)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	if err := c.Ping(ctx); err != nil {
		return err
	}
	cc := c.Context()
	fmt.Printf("connected: id=%d server=%v tls=%v\n", cc.ConnectionID, cc.ServerVersion, !c.SslUnsupported())

	if *query == "" {
		return nil
	}

	flow := mysql.Exchange(c, &mysql.Query{SQL: *query}, textRowHandler)
	for {
		row, err := flow.Recv(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := printRow(row); err != nil {
			return err
		}
	}
}

func main() {
	// Pick up glog's verbosity flags alongside our own.
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	log.RegisterFlags(pflag.CommandLine)
	pflag.Parse()
	defer log.Flush()

	if err := run(context.Background()); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
