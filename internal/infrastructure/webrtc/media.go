package webrtc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const maxPacketSize = 1500

// RTPWriter is the sending half of a local track.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// Stats counts packets moved by a media pump.
type Stats struct {
	Packets atomic.Uint64
	Bytes   atomic.Uint64
	// Lost counts sequence-number gaps on the receiving side.
	Lost      atomic.Uint64
	Malformed atomic.Uint64
}

// ForwardRTP reads RTP datagrams from conn, typically an encoder writing
// to a local UDP port, and writes them to dst until ctx is done or conn
// fails.
func ForwardRTP(ctx context.Context, conn net.PacketConn, dst RTPWriter, stats *Stats, logger *zap.SugaredLogger) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxPacketSize)
	pkt := &rtp.Packet{}
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			stats.Malformed.Add(1)
			logger.Debugw("Dropping malformed RTP packet", "bytes", n, "error", err)
			continue
		}
		if err := dst.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return err
			}
			logger.Warnw("Failed to write RTP packet", "sequence", pkt.SequenceNumber, "error", err)
			continue
		}
		stats.Packets.Add(1)
		stats.Bytes.Add(uint64(n))
	}
}

// CopyRTP copies packets from src to dst, counting sequence gaps. dst is
// usually a UDP socket a local player listens on.
func CopyRTP(dst io.Writer, src io.Reader, stats *Stats) error {
	buf := make([]byte, maxPacketSize)
	pkt := &rtp.Packet{}
	var (
		last    uint16
		started bool
	)
	for {
		n, err := src.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			stats.Malformed.Add(1)
			continue
		}
		if started {
			if gap := pkt.SequenceNumber - last - 1; gap > 0 && gap < 1<<15 {
				stats.Lost.Add(uint64(gap))
			}
		}
		last, started = pkt.SequenceNumber, true

		if _, err := dst.Write(buf[:n]); err != nil {
			return err
		}
		stats.Packets.Add(1)
		stats.Bytes.Add(uint64(n))
	}
}

// TrackReader adapts a remote track to io.Reader.
type TrackReader struct {
	Track *webrtc.TrackRemote
}

func (r TrackReader) Read(b []byte) (int, error) {
	n, _, err := r.Track.Read(b)
	return n, err
}
