// Command locnet-query is a small client for the read-only client
// interface of spec.md §4.B, supplementing the distilled specification
// with the query tool original_source/src/main.cpp exposes as
// "GetNeighbourhood"/"GetClosestNodes"/"listservices" CLI subcommands.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/session"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:16982", "node client-port address")
	cmd := flag.String("cmd", "services", "one of: services, neighbours, closest")
	lat := flag.Float64("lat", 0, "query latitude (closest)")
	lon := flag.Float64("lon", 0, "query longitude (closest)")
	radiusKm := flag.Float64("radius-km", 100, "max radius in km (closest)")
	count := flag.Int("count", 10, "max result count (closest)")
	timeout := flag.Duration("timeout", 5*time.Second, "dial + round-trip timeout")
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	conn, err := net.DialTimeout("tcp", *addr, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(*timeout))

	sess := session.New(conn, log)

	req, err := buildRequest(*cmd, *lat, *lon, *radiusKm, *count)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	msg := &wire.Message{ID: sess.NextRequestID(), Version: wire.CurrentVersion, Req: req}
	if err := sess.SendMessage(msg); err != nil {
		fmt.Fprintln(os.Stderr, "send:", err)
		os.Exit(1)
	}
	reply, err := sess.ReceiveMessage()
	if err != nil {
		fmt.Fprintln(os.Stderr, "receive:", err)
		os.Exit(1)
	}
	if err := printResponse(*cmd, reply.Resp); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRequest(cmd string, lat, lon, radiusKm float64, count int) (*wire.Request, error) {
	switch cmd {
	case "services":
		return &wire.Request{GetServices: &wire.GetServicesReq{}}, nil
	case "neighbours":
		return &wire.Request{GetNeighbourNodesC: &wire.GetNeighbourNodesReq{}}, nil
	case "closest":
		loc, err := spatial.NewGpsLocation(lat, lon)
		if err != nil {
			return nil, err
		}
		return &wire.Request{GetClosestNodesByDistanceC: &wire.GetClosestNodesByDistanceReq{
			Location:          wire.ToWireLocation(loc),
			MaxRadiusKm:       radiusKm,
			MaxCount:          int32(count),
			IncludeNeighbours: true,
		}}, nil
	default:
		return nil, fmt.Errorf("unknown -cmd %q: want services, neighbours, or closest", cmd)
	}
}

func printResponse(cmd string, resp *wire.Response) error {
	if resp == nil {
		return fmt.Errorf("empty response")
	}
	if resp.Status != 0 {
		return fmt.Errorf("node returned error: %s (%s)", resp.Status, resp.Details)
	}
	switch cmd {
	case "services":
		for t, p := range resp.GetServices.Services {
			fmt.Printf("%s\t%s\t%v\n", model.ServiceType(t), p.ServiceID, p.Contacts)
		}
	case "neighbours":
		printNodes(resp.GetNeighbourNodesC.Nodes)
	case "closest":
		printNodes(resp.GetClosestNodesByDistanceC.Nodes)
	}
	return nil
}

func printNodes(nodes []wire.WireNodeSummary) {
	for _, n := range nodes {
		info, err := wire.FromWireNodeInfo(n.Info)
		if err != nil {
			fmt.Println("<undecodable node>:", err)
			continue
		}
		fmt.Printf("%s\t%s\t%.6f,%.6f\n",
			info.Profile.ID, model.NodeRelationType(n.RelationType), info.Location.Lat, info.Location.Lon)
	}
}
