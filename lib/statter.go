package lib

import (
	"time"

	"github.com/peterbourgon/g2s"
)

//PrefixStatter can report things to statsd with a prefix on their bucket name
type PrefixStatter struct {
	statter         g2s.Statter
	DevelopmentMode bool
}

//NewPrefixStatter dials statsd at addr. An empty addr gives a statter that drops everything.
func NewPrefixStatter(addr string, dev bool) (statter PrefixStatter, err error) {
	statter.DevelopmentMode = dev
	if addr == "" {
		return statter, nil
	}
	s, err := g2s.Dial("udp", addr)
	if err != nil {
		return statter, err
	}
	statter.statter = s
	return statter, nil
}

func (statter PrefixStatter) prefix() string {
	if statter.DevelopmentMode {
		return "dev."
	}
	return "prod."
}

//Time reports the time for this stat to statsd. (use it with defer)
func (statter PrefixStatter) Time(start time.Time, bucket string) {
	duration := time.Since(start)
	bucket = statter.prefix() + bucket
	if statter.statter != nil {
		statter.statter.Timing(1.0, bucket, duration)
	}
}

//Count wraps a g2s.Statter giving an automatic version prefix and a single location to set the report probability.
func (statter PrefixStatter) Count(count int, bucket string) {
	if statter.statter != nil && count > 0 {
		statter.statter.Counter(1.0, statter.prefix()+bucket, count)
	}
}
