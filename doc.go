// Package vrlink implements the wireless link between a body-tracker node and
// its USB receiver: TDMA scheduling with frequency hopping, a fixed-point IMU
// fusion filter, and the receiver-side aggregation into HID reports. Each
// concern lives in its own directory (phy, packet, hop, quality, fusion,
// tracker, receiver, storage, eventlog) and the cmd tree holds the two mains
// that wire them together.
package vrlink
