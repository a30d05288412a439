package influx

import (
	"context"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot"
	"github.com/hubertat/repbot/msgs"
)

const defaultMeasurement = "repbot_io"
const healthTimeout = 3 * time.Second

var _ repbot.TelemetrySink = (*Sink)(nil)

// Sink stores telemetry readings in an InfluxDB v2 bucket. Writes are
// batched by the client and never block a tick.
type Sink struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	client   influxdb2.Client
	writeApi api.WriteAPI
	logger   *log.Logger
}

func (is *Sink) measurement() string {
	if len(is.Measurement) == 0 {
		return defaultMeasurement
	}
	return is.Measurement
}

// Setup checks the server health and prepares the write api.
func (is *Sink) Setup(ctx context.Context) error {
	is.logger = repbot.NewLogger("influx")
	is.client = influxdb2.NewClient(is.Host, is.Token)

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	health, err := is.client.Health(ctx)
	if err != nil {
		is.client.Close()
		return errors.Wrap(err, "failed to init influx sink")
	}
	if health.Status != domain.HealthCheckStatusPass {
		is.client.Close()
		return errors.Errorf("influx server not healthy (status: %s)", health.Status)
	}

	is.writeApi = is.client.WriteAPI(is.Organization, is.Bucket)
	go func() {
		for err := range is.writeApi.Errors() {
			is.logger.Warn("influx write failed", "err", err)
		}
	}()

	return nil
}

func (is *Sink) PublishDigital(reading msgs.DigitalIn) error {
	if is.writeApi == nil {
		return errors.New("influx sink not set up")
	}
	is.writeApi.WritePoint(digitalPoint(is.measurement(), reading, time.Now()))
	return nil
}

func (is *Sink) PublishAnalog(reading msgs.AnalogIn) error {
	if is.writeApi == nil {
		return errors.New("influx sink not set up")
	}
	is.writeApi.WritePoint(analogPoint(is.measurement(), reading, time.Now()))
	return nil
}

func (is *Sink) Close() error {
	if is.client == nil {
		return nil
	}
	if is.writeApi != nil {
		is.writeApi.Flush()
	}
	is.client.Close()
	return nil
}

func readingTags(kind, source string, channel int) map[string]string {
	return map[string]string{
		"kind":    kind,
		"source":  source,
		"channel": strconv.Itoa(channel),
	}
}

func digitalPoint(measurement string, reading msgs.DigitalIn, ts time.Time) *write.Point {
	return influxdb2.NewPoint(measurement,
		readingTags("digital", reading.Source, reading.Channel),
		map[string]interface{}{"value": int64(reading.Value)},
		ts)
}

func analogPoint(measurement string, reading msgs.AnalogIn, ts time.Time) *write.Point {
	return influxdb2.NewPoint(measurement,
		readingTags("analog", reading.Source, reading.Channel),
		map[string]interface{}{"value": reading.Value},
		ts)
}
