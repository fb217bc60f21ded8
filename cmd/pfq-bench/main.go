// Command pfq-bench drives the ring/tx pipeline with a synthetic
// internal/netdrv/loopback traffic source, measuring RX ingestion and TX
// drain throughput without needing root or a real NIC. Grounded on the
// cmd/bench/main.go benchmark loop and its golang.org/x/text/message-
// based report formatting.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/pfq-io/pfq-go/internal/netdrv"
	"github.com/pfq-io/pfq-go/internal/netdrv/loopback"
	"github.com/pfq-io/pfq-go/ring"
	"github.com/pfq-io/pfq-go/stats"
	"github.com/pfq-io/pfq-go/tx"
)

func main() {
	fDuration := flag.Duration("d", 2*time.Second, "benchmark duration")
	fPktSize := flag.Uint("l", 128, "synthetic packet size in bytes")
	fRxSlots := flag.Uint("rx-slots", 4096, "RX ring slot count (power of 2)")
	flag.Parse()

	frame := make([]byte, *fPktSize)
	for i := range frame {
		frame[i] = byte(i)
	}

	rxRing, err := ring.NewRxRing(uint32(*fRxSlots), int(*fPktSize))
	if err != nil {
		fmt.Println("rx ring:", err)
		return
	}
	defer rxRing.Close()

	sink := &netdrv.RingSink{Ring: rxRing, Gid: 0, IfIndex: 0}
	rxDriver := &loopback.Driver{Gen: loopback.Repeat(frame)}

	ctx, cancel := context.WithTimeout(context.Background(), *fDuration)
	defer cancel()

	rxStart := time.Now()
	var rxCount uint64
	go func() {
		_ = rxDriver.Run(ctx, sink)
	}()
	for ctx.Err() == nil {
		hdrs := rxRing.Poll(256)
		if len(hdrs) == 0 {
			time.Sleep(time.Microsecond)
			continue
		}
		rxRing.Advance(len(hdrs))
		rxCount += uint64(len(hdrs))
	}
	rxElapsed := time.Since(rxStart)

	txRing, err := ring.NewTxRing(int(*fRxSlots) * (ring.TxHeaderSize + int(*fPktSize)))
	if err != nil {
		fmt.Println("tx ring:", err)
		return
	}
	defer txRing.Close()

	txDriver := &loopback.Driver{}
	txStats := stats.NewRing()
	eng := &tx.Engine{Ring: txRing, Dev: "loopback", Queue: 0, Xmit: &netdrv.DriverTransmitter{Driver: txDriver}, Stats: txStats}

	txCtx, txCancel := context.WithTimeout(context.Background(), *fDuration)
	defer txCancel()
	stop := make(chan struct{})
	go func() {
		<-txCtx.Done()
		close(stop)
	}()

	txStart := time.Now()
	for txCtx.Err() == nil {
		if err := txRing.Write(ring.TxHeader{Nsec: uint64(time.Now().UnixNano())}, frame); err != nil {
			txRing.Flush()
			eng.RunOnce(stop)
		}
	}
	txRing.Flush()
	eng.RunOnce(stop)
	txCount := txStats.Sent.Sum()
	txElapsed := time.Since(txStart)

	p := message.NewPrinter(language.English)
	p.Printf("RX: %d frames in %.3fs (%.0f pps)\n", rxCount, rxElapsed.Seconds(), float64(rxCount)/rxElapsed.Seconds())
	p.Printf("TX: %d frames sent in %.3fs (%.0f pps)\n", txCount, txElapsed.Seconds(), float64(txCount)/txElapsed.Seconds())
}
