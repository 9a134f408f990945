package dispatch

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/jathurchan/ridecore/types"
)

// RidePath returns the block store file holding the latest record of a ride.
func RidePath(rideID string) string { return ridesDir + rideID + ".txt" }

// DriverPath returns the block store file holding a driver's registration.
func DriverPath(driverID string) string { return driversDir + driverID + ".txt" }

// RidesPrefix and DriversPrefix list the persisted records.
const (
	RidesPrefix   = ridesDir
	DriversPrefix = driversDir
)

func gpsPath(driverID string, at time.Time, seq uint64) string {
	return fmt.Sprintf("%s%s_%d-%d.txt", gpsDir, driverID, at.UnixMilli(), seq)
}

// RIDE_DATA|id|rider|driver|pickup|destination|fare|status|millis
func rideRecord(r *types.Ride) []byte {
	return fmt.Appendf(nil, "RIDE_DATA|%s|%s|%s|%s|%s|%.2f|%s|%d",
		r.ID, r.RiderID, r.DriverID, r.Pickup, r.Destination, r.Fare, r.Status, r.UpdatedAt.UnixMilli())
}

// DRIVER_DATA|id|name|location|vehicle|millis
func driverRecord(d *types.Driver, at time.Time) []byte {
	return fmt.Appendf(nil, "DRIVER_DATA|%s|%s|%s|%s|%d",
		d.ID, d.ID, d.Location, d.Vehicle, at.UnixMilli())
}

// GPS_DATA|driver|lat|lon|millis
func gpsRecord(driverID string, lat, lon float64, at time.Time) []byte {
	return fmt.Appendf(nil, "GPS_DATA|%s|%s|%s|%d",
		driverID, formatCoord(lat), formatCoord(lon), at.UnixMilli())
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatLocation(lat, lon float64) string {
	return "(" + formatCoord(lat) + "," + formatCoord(lon) + ")"
}

func driverHash(driverID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(driverID))
	return h.Sum32() & 0x7fffffff
}

// driverPhone derives a stable display phone number from the driver id.
func driverPhone(driverID string) string {
	h := driverHash(driverID)
	return fmt.Sprintf("(%03d) %03d-%04d", h%900+100, h/1000%900+100, h%10000)
}

// driverRating derives a stable rating in [4.5, 5.0] from the driver id.
func driverRating(driverID string) float64 {
	return 4.5 + float64(driverHash(driverID)%51)/100
}

func vehicleFor(driverID string) string {
	return "Vehicle_" + driverID
}
