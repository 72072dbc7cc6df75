package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/BearBump/PaxBox/internal/integrations/dcs"
)

// FakeClient generates a deterministic HBPR dump per flight key, for local
// runs without a departure control system. The same key always yields the
// same dump, so reloads are reproducible.
type FakeClient struct{}

var _ dcs.Client = (*FakeClient)(nil)

func New() *FakeClient { return &FakeClient{} }

var fakeNames = []string{
	"ZHANG/SAN MR",
	"WANG/LEI MS",
	"LI/MING MR",
	"CHEN/JING MS",
	"LIU/YANG MR",
	"SUN/WEN MS",
}

func (f *FakeClient) FetchDump(ctx context.Context, flightKey string) (string, error) {
	token := flightToken(flightKey)
	seed := hash(flightKey)
	count := 6 + int(seed%5)

	var b strings.Builder
	for n := 1; n <= count; n++ {
		v := hash(fmt.Sprintf("%s|%d", flightKey, n))
		name := fakeNames[v%uint32(len(fakeNames))]
		surname, given := splitName(name)

		fmt.Fprintf(&b, ">HBPR: %s,%d\n", token, n)
		fmt.Fprintf(&b, "%3d. %-17sBN%03d *%-11sY   %s\n", n, name, n, fmt.Sprintf("%dA", 10+n), station(flightKey))
		b.WriteString("     FBA/2PC\n")
		// every fifth passenger checks one bag too many
		if v%5 == 0 {
			b.WriteString("     BAG3/69/0 \n")
		} else {
			b.WriteString("     BAG2/46/0 \n")
		}
		fmt.Fprintf(&b, "     PAXLST :%s/%s\n", surname, given)
		fmt.Fprintf(&b, "     PASSPORT :%s/%s/M/CHN/E%08d/320101/CHN\n", surname, given, v%100000000)
	}

	// a couple of acknowledged-only references, as real dumps have
	fmt.Fprintf(&b, ">PD HBPR,%d\n", count+1)
	fmt.Fprintf(&b, ">PD HBPR,%d\n", count+2)
	return b.String(), nil
}

func flightToken(flightKey string) string {
	parts := strings.SplitN(flightKey, "_", 3)
	if len(parts) != 3 {
		return flightKey
	}
	return fmt.Sprintf("%s/%s*%s", parts[0], parts[1], parts[2])
}

func station(flightKey string) string {
	parts := strings.SplitN(flightKey, "_", 3)
	if len(parts) != 3 || len(parts[2]) != 3 {
		return "XXX"
	}
	return parts[2]
}

func splitName(name string) (surname, given string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexByte(name, ' '); i != -1 {
		name = name[:i] // drop the title
	}
	surname, given, _ = strings.Cut(name, "/")
	return surname, given
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
