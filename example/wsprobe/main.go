// Command wsprobe serves the parsed structure of an MP4 file over a
// websocket: one text frame of track metadata, then a binary frame per
// sample. Useful for eyeballing demuxer output from a browser console.
package main

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/openmediakit/streamkit/av"
	"github.com/openmediakit/streamkit/format/mp4"
)

var log = logrus.WithField("cmd", "wsprobe")

type trackHeader struct {
	TrackID  uint32  `json:"track_id"`
	Kind     string  `json:"kind"`
	Codec    string  `json:"codec"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration_s"`
}

func main() {
	addr := pflag.String("addr", ":8083", "listen address")
	file := pflag.String("file", "", "mp4 file to probe")
	verbose := pflag.Bool("verbose", false, "debug logging")
	pflag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if *file == "" {
		log.Fatal("need --file")
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		log.WithError(err).Fatal("read input")
	}

	http.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		if err := serveProbe(w, r, data); err != nil {
			log.WithError(err).Error("probe session ended")
		}
	})
	log.WithField("addr", *addr).Info("listening")
	log.Fatal(http.ListenAndServe(*addr, nil))
}

func serveProbe(w http.ResponseWriter, r *http.Request, data []byte) error {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		for {
			if _, _, err := wsutil.NextReader(conn, ws.StateServerSide); err != nil {
				return
			}
		}
	}()

	d := mp4.New(av.NewBufferSource(data))
	if err := d.Init(); err != nil {
		return err
	}
	defer d.Close()

	var headers []trackHeader
	var tracks []*mp4.TrackDemuxer
	for _, kind := range []av.TrackKind{av.TrackVideo, av.TrackAudio} {
		for i := 0; i < d.TrackCount(kind); i++ {
			t := d.GetTrackDemuxer(kind, i)
			info := t.GetInfo()
			headers = append(headers, trackHeader{
				TrackID:  info.TrackID,
				Kind:     info.Kind.String(),
				Codec:    info.Codec,
				Width:    info.Width,
				Height:   info.Height,
				Duration: info.Duration.Seconds(),
			})
			tracks = append(tracks, t)
		}
	}
	meta, err := json.Marshal(headers)
	if err != nil {
		return err
	}
	if err := wsutil.WriteServerText(conn, meta); err != nil {
		return err
	}

	for _, t := range tracks {
		if err := streamTrack(conn, t); err != nil {
			return err
		}
	}
	return nil
}

// streamTrack sends one binary frame per sample: track id, microsecond
// timestamp, keyframe flag, then the payload.
func streamTrack(conn io.Writer, t *mp4.TrackDemuxer) error {
	info := t.GetInfo()
	for {
		samples, err := t.GetSamples(1)
		if errors.Is(err, av.ErrEndOfStream) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, s := range samples {
			frame := make([]byte, 13, 13+len(s.Data))
			binary.BigEndian.PutUint32(frame, info.TrackID)
			binary.BigEndian.PutUint64(frame[4:], uint64(s.Time/time.Microsecond))
			if s.KeyFrame {
				frame[12] = 1
			}
			frame = append(frame, s.Data...)
			if err := wsutil.WriteServerBinary(conn, frame); err != nil {
				return err
			}
		}
	}
}
