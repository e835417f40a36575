// Command mbserver-cli is a thin wrapper around mbtcp.Server: it opens a
// TCP listener, serves a memdevice.Device over it, and logs every signal
// the core emits through logrus. The protocol core itself never imports
// logrus; this binary is the one place
// that subscribes a structured log sink to its publish/subscribe buses,
// grounded on channono-ModbusBaby-go's separation of its frontend from the
// Modbus library it wraps.
package main

import (
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modbuscore/modbuscore/mbtcp"
	"github.com/modbuscore/modbuscore/memdevice"
	"github.com/modbuscore/modbuscore/statuscode"
	"github.com/modbuscore/modbuscore/tcpport"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:502", "address to listen on")
	maxConn := flag.Int("max-connections", 10, "maximum concurrent connections")
	tick := flag.Duration("tick", 2*time.Millisecond, "poll interval between Process calls")
	flag.Parse()

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	device, err := memdevice.New(memdevice.Model{
		HoldingRegisters: []memdevice.Range{{Start: 0, Len: 1000}},
		InputRegisters:   []memdevice.Range{{Start: 0, Len: 1000}},
		Coils:            []memdevice.Range{{Start: 0, Len: 2000}},
		DiscreteInputs:   []memdevice.Range{{Start: 0, Len: 2000}},
	})
	if err != nil {
		log.WithError(err).Fatal("building in-memory device")
	}

	listener := tcpport.NewListener(*addr)
	srv := mbtcp.New(listener, device, mbtcp.Config{
		Ipaddr:           *addr,
		MaxConnections:   *maxConn,
		BroadcastEnabled: true,
		Now:              time.Now,
	})
	srv.SubscribeOpened(func() { log.WithField("addr", *addr).Info("listening") })
	srv.SubscribeClosed(func() { log.Info("listener closed") })
	srv.SubscribeNewConnection(func(source string) {
		log.WithField("conn", source).Info("accepted connection")
	})
	srv.SubscribeCloseConnection(func(source string) {
		log.WithField("conn", source).Info("connection closed")
	})
	srv.SubscribeTx(func(source string, data []byte, size int) {
		log.WithFields(logrus.Fields{"conn": source, "bytes": size}).Debug("tx")
	})
	srv.SubscribeRx(func(source string, data []byte, size int) {
		log.WithFields(logrus.Fields{"conn": source, "bytes": size}).Debug("rx")
	})
	srv.SubscribeError(func(source string, status statuscode.StatusCode, text string) {
		log.WithFields(logrus.Fields{"conn": source, "status": status.String()}).Warn(text)
	})
	srv.SubscribeCompleted(func(source string, status statuscode.StatusCode) {
		log.WithFields(logrus.Fields{"conn": source, "status": status.String()}).Debug("completed")
	})

	for {
		srv.Process()
		time.Sleep(*tick)
	}
}
