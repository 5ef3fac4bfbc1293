// Package inventory discovers capture devices on the host and remembers
// them across restarts.
//
// A Scanner walks the /dev/video* nodes, checks each one and names it by
// its persistent /dev/v4l/by-id link when one exists. A Discovery keeps
// the SQLite inventory in step with the scans, and a Resolver turns the
// unique ids frontends send into device paths for the camera registry.
//
// Resolution order:
//  1. an explicit path from the cameras section of the config
//  2. the path of a present camera in the inventory
//  3. the fallback resolver (by-id link, then /dev/<id>)
package inventory
