/*
Package ddns keeps Cloudflare DNS "A" records pointed at the current public IP address.

A single site is reconciled by the client returned from [ddns.New],
which discovers the current IP through a [Resolver],
looks up the zone and record through a [Provider],
and only writes to the provider when the record content differs.

[ddns.Run] reconciles every site in a [Config] and reports one [Outcome] per site.
A failure in one site never stops the others.
Nothing is persisted between runs; every pass starts from scratch.
*/
package ddns
