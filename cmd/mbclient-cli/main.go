// Command mbclient-cli is a thin wrapper around mbclient.ClientPort: it
// dials a Modbus/TCP server, issues one ReadHoldingRegisters request, and
// logs every signal the core emits through logrus. Grounded on
// channono-ModbusBaby-go's separation of its frontend from the Modbus
// library it drives; the core itself stays logger-agnostic.
package main

import (
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modbuscore/modbuscore/mbclient"
	"github.com/modbuscore/modbuscore/statuscode"
	"github.com/modbuscore/modbuscore/tcpport"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:502", "server address to dial")
	unit := flag.Int("unit", 1, "unit id to address")
	offset := flag.Int("offset", 0, "starting register offset")
	count := flag.Int("count", 1, "number of registers to read")
	tick := flag.Duration("tick", 2*time.Millisecond, "poll interval between re-drives")
	flag.Parse()

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	p := tcpport.New(*addr, 5*time.Second)
	cp := mbclient.New(p, mbclient.Config{Tries: 3, Name: *addr, Now: time.Now})

	cp.SubscribeOpened(func(name string) { log.WithField("server", name).Info("opened") })
	cp.SubscribeClosed(func(name string) { log.WithField("server", name).Info("closed") })
	cp.SubscribeTx(func(name string, data []byte, size int) {
		log.WithFields(logrus.Fields{"server": name, "bytes": size}).Debug("tx")
	})
	cp.SubscribeRx(func(name string, data []byte, size int) {
		log.WithFields(logrus.Fields{"server": name, "bytes": size}).Debug("rx")
	})
	cp.SubscribeError(func(name string, status statuscode.StatusCode, text string) {
		log.WithFields(logrus.Fields{"server": name, "status": status.String()}).Warn(text)
	})
	cp.SubscribeCompleted(func(name string, status statuscode.StatusCode) {
		log.WithFields(logrus.Fields{"server": name, "status": status.String()}).Info("completed")
	})

	client := cp.NewClient(uint8(*unit))

	for {
		values, status := client.ReadHoldingRegisters(uint16(*offset), uint16(*count))
		if status.IsProcessing() {
			time.Sleep(*tick)
			continue
		}
		if status.IsBad() {
			log.WithField("status", status.String()).Fatal("read failed")
		}
		log.WithField("values", values).Info("read holding registers")
		return
	}
}
