// Package main generates a development PKI for PLMSync: a CA, a server
// certificate and optionally one client certificate.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atinyakov/PLMSync/internal/certgen"
)

type options struct {
	dir   string
	hosts string
	user  string
}

func main() {
	var opts options
	flag.StringVar(&opts.dir, "dir", "certs", "output folder")
	flag.StringVar(&opts.hosts, "hosts", "localhost,127.0.0.1", "comma separated server host names and IPs")
	flag.StringVar(&opts.user, "user", "", "also issue a client certificate for this login")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
	fmt.Printf("Certificates generated into %s\n", opts.dir)
}

func run(opts options) error {
	ca, caCert, caKey, err := certgen.NewCA("PLMSync CA", 10*365*24*time.Hour)
	if err != nil {
		return err
	}
	if err := certgen.WritePair(filepath.Join(opts.dir, "ca.crt"), filepath.Join(opts.dir, "ca.key"), caCert, caKey); err != nil {
		return err
	}

	var hosts []string
	for _, h := range strings.Split(opts.hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	srvCert, srvKey, err := ca.IssueServer(hosts, 365*24*time.Hour)
	if err != nil {
		return err
	}
	if err := certgen.WritePair(filepath.Join(opts.dir, "server.crt"), filepath.Join(opts.dir, "server.key"), srvCert, srvKey); err != nil {
		return err
	}

	if opts.user == "" {
		return nil
	}
	userCert, userKey, err := ca.Issue(opts.user)
	if err != nil {
		return err
	}
	return certgen.WritePair(filepath.Join(opts.dir, opts.user+".crt"), filepath.Join(opts.dir, opts.user+".key"), userCert, userKey)
}
