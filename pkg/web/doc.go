// Package web serves the spectator API and the admin endpoints of the
// primary node.
//
// Public routes:
//
//	GET /api/live_data      current presentation snapshot
//	GET /api/stats          leaderboard
//	GET /api/timing_status  timing mode, GPS status and precision class
//	GET /ws/live            websocket stream of snapshots
//
// Admin routes require HTTP basic auth against a bcrypt password hash:
//
//	GET  /admin/runners      runners with their times
//	POST /admin/runners      add a runner {"name"}
//	POST /admin/update_time  {"id", "time"}
//	POST /admin/delete_time  {"id"}
package web
